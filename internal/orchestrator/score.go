package orchestrator

import (
	"fmt"
	"math"
)

// Dimension names the quality axes folded into a worker's overall score.
type Dimension string

const (
	DimensionCoreTest    Dimension = "core_test"
	DimensionCodeQuality Dimension = "code_quality"
	DimensionPerformance Dimension = "performance"
	DimensionBrowser     Dimension = "browser"
	DimensionAPI         Dimension = "api"
)

// Dimensions returns the axes in weight order.
func Dimensions() []Dimension {
	return []Dimension{
		DimensionCoreTest,
		DimensionCodeQuality,
		DimensionPerformance,
		DimensionBrowser,
		DimensionAPI,
	}
}

// Weights maps each dimension to its share of the overall score.
type Weights map[Dimension]float64

// DefaultWeights returns the standard split.
func DefaultWeights() Weights {
	return Weights{
		DimensionCoreTest:    0.30,
		DimensionCodeQuality: 0.25,
		DimensionPerformance: 0.20,
		DimensionBrowser:     0.15,
		DimensionAPI:         0.10,
	}
}

// Validate fails fast unless the weights cover every dimension and sum
// to 1 within floating point tolerance.
func (w Weights) Validate() error {
	sum := 0.0
	for _, dim := range Dimensions() {
		weight, ok := w[dim]
		if !ok {
			return fmt.Errorf("missing weight for dimension %s", dim)
		}
		if weight < 0 {
			return fmt.Errorf("weight for %s is negative: %.3f", dim, weight)
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("weights sum to %.4f, want 1.0", sum)
	}
	return nil
}

// DimensionScores holds one worker's per-dimension measurements, 0-100.
// A dimension whose probe failed is present with value 0.
type DimensionScores map[Dimension]float64

// Aggregate folds the scores into one weighted value. Missing dimensions
// count as 0.
func (w Weights) Aggregate(scores DimensionScores) float64 {
	total := 0.0
	for dim, weight := range w {
		total += weight * scores[dim]
	}
	return total
}
