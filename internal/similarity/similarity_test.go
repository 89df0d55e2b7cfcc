package similarity

import (
	"testing"

	"crucible/internal/normalize"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"cannot resolve module phaser", "cannot resolve module lodash", 6},
	}
	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRatioIdentity(t *testing.T) {
	inputs := []string{"x", "cannot resolve module phaser", "line <n> column <n>"}
	for _, in := range inputs {
		if got := Ratio(in, in); got != 100 {
			t.Errorf("Ratio(%q, %q) = %.2f, want 100", in, in, got)
		}
	}
}

func TestRatioEmpty(t *testing.T) {
	if got := Ratio("", ""); got != 100 {
		t.Errorf("Ratio of two empty strings = %.2f, want 100", got)
	}
	if got := Ratio("abc", ""); got != 0 {
		t.Errorf("Ratio with one empty string = %.2f, want 0", got)
	}
	if got := Ratio("", "abc"); got != 0 {
		t.Errorf("Ratio with one empty string = %.2f, want 0", got)
	}
}

func TestRatioSymmetry(t *testing.T) {
	pairs := [][2]string{
		{"cannot resolve module phaser", "cannot resolve module lodash"},
		{"unexpected token", "unexpected end of input"},
		{"a", "completely different thing"},
	}
	for _, p := range pairs {
		ab, ba := Ratio(p[0], p[1]), Ratio(p[1], p[0])
		if ab != ba {
			t.Errorf("Ratio not symmetric: (%q,%q)=%.2f but reversed=%.2f", p[0], p[1], ab, ba)
		}
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	h := NewHasher(0, 0)
	a := h.Fingerprint("cannot resolve module phaser")
	b := h.Fingerprint("cannot resolve module phaser")
	if Compare(a, b) != 100 {
		t.Error("Identical signatures should produce identical fingerprints")
	}
	if len(a) != DefaultHashCount {
		t.Errorf("Fingerprint width = %d, want %d", len(a), DefaultHashCount)
	}
}

func TestFingerprintShortInput(t *testing.T) {
	h := NewHasher(16, 3)
	// Fewer words than the shingle width collapses to one whole-string shingle.
	a := h.Fingerprint("phaser")
	b := h.Fingerprint("phaser")
	if Compare(a, b) != 100 {
		t.Error("Short identical signatures should match at 100")
	}
	c := h.Fingerprint("lodash")
	if Compare(a, c) == 100 {
		t.Error("Different short signatures should not match at 100")
	}
}

func TestFingerprintSimilarTexts(t *testing.T) {
	h := NewHasher(0, 0)
	a := h.Fingerprint("cannot resolve module phaser in game source")
	b := h.Fingerprint("cannot resolve module phaser in game bundle")
	c := h.Fingerprint("connection refused while contacting upstream service")

	simAB := Compare(a, b)
	simAC := Compare(a, c)
	if simAB <= simAC {
		t.Errorf("Near-duplicate similarity (%.1f) should exceed unrelated similarity (%.1f)", simAB, simAC)
	}
}

func TestCompareMismatchedWidths(t *testing.T) {
	a := NewHasher(16, 3).Fingerprint("x y z")
	b := NewHasher(32, 3).Fingerprint("x y z")
	if got := Compare(a, b); got != 0 {
		t.Errorf("Compare with mismatched widths = %.2f, want 0", got)
	}
	if got := Compare(nil, nil); got != 0 {
		t.Errorf("Compare(nil, nil) = %.2f, want 0", got)
	}
}

func TestMatcherSymmetryAndIdentity(t *testing.T) {
	matchers := map[string]Matcher{
		"exact":       Exact{},
		"approximate": NewApproximate(0, 0),
	}
	for name, m := range matchers {
		t.Run(name, func(t *testing.T) {
			if got := m.Similarity("some error text", "some error text"); got != 100 {
				t.Errorf("Similarity(x, x) = %.2f, want 100", got)
			}
			ab := m.Similarity("unexpected token", "unexpected end of input")
			ba := m.Similarity("unexpected end of input", "unexpected token")
			if ab != ba {
				t.Errorf("Similarity not symmetric: %.2f vs %.2f", ab, ba)
			}
		})
	}
}

// Raising the threshold never increases the number of candidates that
// qualify for a fixed corpus.
func TestThresholdMonotonicity(t *testing.T) {
	candidates := []Candidate{
		{Signature: "cannot resolve module phaser", Occurrences: 1},
		{Signature: "cannot resolve module lodash", Occurrences: 2},
		{Signature: "unexpected token at line <n>", Occurrences: 1},
		{Signature: "connection refused", Occurrences: 4},
	}
	query := "cannot resolve module react"

	m := Exact{}
	count := func(threshold float64) int {
		n := 0
		for _, c := range candidates {
			if m.Similarity(query, c.Signature) >= threshold {
				n++
			}
		}
		return n
	}

	prev := count(0)
	for threshold := 10.0; threshold <= 100; threshold += 10 {
		curr := count(threshold)
		if curr > prev {
			t.Errorf("Match count increased from %d to %d when threshold rose to %.0f", prev, curr, threshold)
		}
		prev = curr
	}
}

func TestBestMatchThresholdAndTieBreak(t *testing.T) {
	candidates := []Candidate{
		{Signature: "cannot resolve module phaser", Occurrences: 1},
		{Signature: "connection refused by upstream", Occurrences: 9},
	}

	got := BestMatch(Exact{}, "cannot resolve module phaser", candidates, 80)
	if got == nil || got.Signature != candidates[0].Signature {
		t.Fatalf("BestMatch = %+v, want the module-resolve candidate", got)
	}

	if got := BestMatch(Exact{}, "something else entirely unrelated", candidates, 80); got != nil {
		t.Errorf("BestMatch below threshold = %+v, want nil", got)
	}

	// Equal scores break by occurrences, not candidate order.
	dup := []Candidate{
		{Signature: "same signature", Occurrences: 1},
		{Signature: "same signature", Occurrences: 5},
	}
	best := BestMatch(Exact{}, "same signature", dup, 80)
	if best == nil || best.Occurrences != 5 {
		t.Errorf("Tie-break should pick highest occurrences, got %+v", best)
	}
}

// The canonical recurring-failure scenario: quoting differences on a module
// resolution error must still be recognized as the same failure.
func TestModuleResolveVariants(t *testing.T) {
	a := normalize.Signature("Cannot resolve module 'phaser'")
	b := normalize.Signature("Cannot resolve module phaser")

	if sim := Ratio(a, b); sim < 90 {
		t.Errorf("Similarity of module-resolve variants = %.2f, want >= 90", sim)
	}
	if cat := normalize.Classify("Cannot resolve module 'phaser'"); cat != normalize.CategoryDependency {
		t.Errorf("Category = %q, want dependency", cat)
	}
}
