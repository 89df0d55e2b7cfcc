package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"crucible/internal/logging"
)

const (
	defaultHTTPTimeout = 10 * time.Second

	// Latency above fastLatency starts costing points; slowLatency and
	// beyond scores the floor for a reachable endpoint.
	fastLatency = 200 * time.Millisecond
	slowLatency = 2 * time.Second
	slowFloor   = 40.0
)

// HTTPProbe checks that the worker's artifact serves its endpoint. The
// score folds reachability, status class and latency into one value:
// unreachable is 0, a non-2xx status caps at 25, and a 2xx response scores
// 40-100 depending on latency.
type HTTPProbe struct {
	Dimension string
	URL       string
	Timeout   time.Duration

	// Client overrides the default client, mainly for tests.
	Client *http.Client
}

func (p *HTTPProbe) Name() string { return p.Dimension }

func (p *HTTPProbe) Run(ctx context.Context, workerID string) (*Score, error) {
	if p.URL == "" {
		return nil, fmt.Errorf("http probe %s has no url", p.Dimension)
	}

	tctx, cancel := context.WithTimeout(ctx, timeoutOr(p.Timeout, defaultHTTPTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("http probe %s: %w", p.Dimension, err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		logging.ProbeWarn("HTTP probe %s unreachable for worker=%s: %v", p.Dimension, workerID, err)
		return &Score{
			Value:   0,
			Details: map[string]string{"error": err.Error()},
		}, nil
	}
	defer resp.Body.Close()

	details := map[string]string{
		"status":     resp.Status,
		"latency_ms": fmt.Sprintf("%d", latency.Milliseconds()),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		value := 25.0
		if resp.StatusCode >= 500 {
			value = 10.0
		}
		return &Score{Value: value, Details: details}, nil
	}

	return &Score{Value: latencyScore(latency), Details: details}, nil
}

// latencyScore maps response time onto 40-100 for a healthy endpoint.
func latencyScore(latency time.Duration) float64 {
	if latency <= fastLatency {
		return 100
	}
	if latency >= slowLatency {
		return slowFloor
	}
	span := float64(slowLatency - fastLatency)
	frac := float64(latency-fastLatency) / span
	return clampScore(100 - frac*(100-slowFloor))
}
