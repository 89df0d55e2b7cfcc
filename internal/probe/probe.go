// Package probe measures one quality dimension of a worker's artifact.
// Probes are narrow and composable: the orchestrator runs several per
// worker and folds their scores into a weighted aggregate.
package probe

import (
	"context"
	"time"
)

// Score is a single dimension measurement on the 0-100 scale.
type Score struct {
	Value   float64           `json:"value"`
	Details map[string]string `json:"details,omitempty"`
}

// Probe measures one dimension for one worker. A probe that cannot
// complete returns an error; the caller scores that dimension zero and
// records the failure, it never aborts the other probes.
type Probe interface {
	Name() string
	Run(ctx context.Context, workerID string) (*Score, error)
}

// clampScore bounds a raw value to the 0-100 scale.
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// timeoutOr returns d when positive, otherwise the fallback.
func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
