package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"
)

func TestScriptProbeParsesTrailingScore(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell syntax assumes bash")
	}
	p := &ScriptProbe{Dimension: "functionality", Command: "echo 'checks passed'; echo 'score: 72.5'"}

	score, err := p.Run(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Value != 72.5 {
		t.Errorf("score = %.1f, want 72.5", score.Value)
	}
	if score.Details["source"] != "output" {
		t.Errorf("source = %q, want output", score.Details["source"])
	}
}

func TestScriptProbeBareNumber(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell syntax assumes bash")
	}
	p := &ScriptProbe{Dimension: "performance", Command: "echo 88"}

	score, err := p.Run(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Value != 88 {
		t.Errorf("score = %.1f, want 88", score.Value)
	}
}

func TestScriptProbeExitStatusFallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell syntax assumes bash")
	}
	p := &ScriptProbe{Dimension: "functionality", Command: "true"}
	score, err := p.Run(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Value != 100 {
		t.Errorf("passing command score = %.1f, want 100", score.Value)
	}

	p = &ScriptProbe{Dimension: "functionality", Command: "echo broken build >&2; exit 3"}
	score, err = p.Run(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Value != 0 {
		t.Errorf("failing command score = %.1f, want 0", score.Value)
	}
	if score.Details["error"] == "" {
		t.Error("failing command recorded no error detail")
	}
}

func TestScriptProbeTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell syntax assumes bash")
	}
	p := &ScriptProbe{Dimension: "functionality", Command: "sleep 5", Timeout: 50 * time.Millisecond}

	if _, err := p.Run(context.Background(), "w1"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestScriptProbeClampsScore(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell syntax assumes bash")
	}
	p := &ScriptProbe{Dimension: "quality", Command: "echo 250"}

	score, err := p.Run(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Value != 100 {
		t.Errorf("score = %.1f, want clamp to 100", score.Value)
	}
}

func TestTrailingScore(t *testing.T) {
	cases := []struct {
		out   string
		want  float64
		found bool
	}{
		{"72", 72, true},
		{"noise\nscore: 55\n", 55, true},
		{"Score: 90", 90, true},
		{"all checks passed", 0, false},
		{"", 0, false},
		{"55\ntrailing words", 0, false},
	}
	for _, tc := range cases {
		got, ok := trailingScore(tc.out)
		if ok != tc.found || got != tc.want {
			t.Errorf("trailingScore(%q) = %.1f,%v want %.1f,%v", tc.out, got, ok, tc.want, tc.found)
		}
	}
}

func TestHTTPProbeHealthyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &HTTPProbe{Dimension: "performance", URL: srv.URL, Client: srv.Client()}
	score, err := p.Run(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Value != 100 {
		t.Errorf("local endpoint score = %.1f, want 100", score.Value)
	}
}

func TestHTTPProbeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := &HTTPProbe{Dimension: "performance", URL: srv.URL, Client: srv.Client()}
	score, err := p.Run(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Value != 10 {
		t.Errorf("5xx score = %.1f, want 10", score.Value)
	}
}

func TestHTTPProbeUnreachable(t *testing.T) {
	p := &HTTPProbe{Dimension: "performance", URL: "http://127.0.0.1:1/", Timeout: time.Second}
	score, err := p.Run(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Value != 0 {
		t.Errorf("unreachable score = %.1f, want 0", score.Value)
	}
	if score.Details["error"] == "" {
		t.Error("unreachable probe recorded no error detail")
	}
}

func TestLatencyScore(t *testing.T) {
	if got := latencyScore(50 * time.Millisecond); got != 100 {
		t.Errorf("fast latency = %.1f, want 100", got)
	}
	if got := latencyScore(5 * time.Second); got != slowFloor {
		t.Errorf("slow latency = %.1f, want %.1f", got, slowFloor)
	}
	mid := latencyScore(1100 * time.Millisecond)
	if mid <= slowFloor || mid >= 100 {
		t.Errorf("mid latency = %.1f, want inside (%.1f,100)", mid, slowFloor)
	}
}

func TestBrowserProbeAgainstLiveBrowser(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a local Chrome install")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div id="app">ready</div></body></html>`))
	}))
	defer srv.Close()

	p := &BrowserProbe{
		Dimension: "user_experience",
		URL:       srv.URL,
		Selectors: []string{"#app", "#missing"},
		Timeout:   30 * time.Second,
	}
	score, err := p.Run(context.Background(), "w1")
	if err != nil {
		t.Skipf("browser unavailable: %v", err)
	}
	if score.Value != 85 {
		t.Errorf("score = %.1f, want 85 (one missing selector)", score.Value)
	}
}
