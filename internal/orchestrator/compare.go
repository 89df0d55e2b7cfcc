package orchestrator

import (
	"sort"
)

// RankedReport is a worker report with its standing in the batch.
type RankedReport struct {
	WorkerReport
	Rank       int     `json:"rank"`       // 1 is best
	Percentile float64 `json:"percentile"` // share of workers at or below this score
}

// Comparison is the ranked view of one batch.
type Comparison struct {
	Ranked   []RankedReport        `json:"ranked"`
	Winners  map[Dimension]string  `json:"winners"`  // best worker per dimension
	Averages map[Dimension]float64 `json:"averages"` // mean score per dimension
	Overall  float64               `json:"overall"`  // mean overall score
}

// Best returns the top-ranked report, or nil for an empty batch.
func (c *Comparison) Best() *RankedReport {
	if len(c.Ranked) == 0 {
		return nil
	}
	return &c.Ranked[0]
}

// Compare ranks a batch of reports. Ties on overall score break toward
// the worker whose iteration finished in fewer attempts, then by ID for
// stable output.
func Compare(reports []WorkerReport, weights Weights) *Comparison {
	c := &Comparison{
		Winners:  map[Dimension]string{},
		Averages: map[Dimension]float64{},
	}
	if len(reports) == 0 {
		return c
	}

	ranked := make([]RankedReport, len(reports))
	for i, r := range reports {
		ranked[i] = RankedReport{WorkerReport: r}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Overall != ranked[j].Overall {
			return ranked[i].Overall > ranked[j].Overall
		}
		ai, aj := attemptsOf(ranked[i]), attemptsOf(ranked[j])
		if ai != aj {
			return ai < aj
		}
		return ranked[i].WorkerID < ranked[j].WorkerID
	})

	n := float64(len(ranked))
	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].Percentile = (n - float64(i)) / n * 100
	}
	c.Ranked = ranked

	overallSum := 0.0
	for _, r := range ranked {
		overallSum += r.Overall
	}
	c.Overall = overallSum / n

	for _, dim := range Dimensions() {
		sum := 0.0
		bestScore := -1.0
		bestID := ""
		for _, r := range ranked {
			score := r.Scores[dim]
			sum += score
			if score > bestScore || (score == bestScore && bestID > r.WorkerID) {
				bestScore = score
				bestID = r.WorkerID
			}
		}
		c.Averages[dim] = sum / n
		c.Winners[dim] = bestID
	}
	return c
}

func attemptsOf(r RankedReport) int {
	if r.Outcome == nil {
		return int(^uint(0) >> 1)
	}
	return r.Outcome.TotalAttempts
}
