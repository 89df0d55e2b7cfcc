// Package orchestrator fans a batch of workers out over the iteration
// controller, probes each surviving artifact across the quality
// dimensions, and ranks the results. Workers are independent: the
// knowledge store is the only shared resource.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"crucible/internal/iteration"
	"crucible/internal/knowledge"
	"crucible/internal/logging"
	"crucible/internal/probe"
)

// DefaultConcurrency bounds how many workers iterate at once. Workers are
// heavyweight (sandboxes, ports, disk), so the bound stays small.
const DefaultConcurrency = 3

// Worker is one unit of parallel work: a task, its isolated workspace and
// the executor that validates it, plus the probes that measure the result.
type Worker struct {
	ID        string
	Task      iteration.Task
	Workspace iteration.Workspace
	Executor  iteration.Executor
	Probes    map[Dimension]probe.Probe
}

// ProbeError records one failed dimension probe on a worker report.
type ProbeError struct {
	Dimension Dimension `json:"dimension"`
	Message   string    `json:"message"`
}

// WorkerReport is one worker's full result: the iteration outcome, the
// per-dimension scores and their weighted aggregate.
type WorkerReport struct {
	WorkerID    string             `json:"worker_id"`
	Outcome     *iteration.Outcome `json:"outcome"`
	Scores      DimensionScores    `json:"scores"`
	Overall     float64            `json:"overall"`
	ProbeErrors []ProbeError       `json:"probe_errors,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// Pool runs workers under bounded concurrency.
type Pool struct {
	concurrency   int64
	weights       Weights
	controllerCfg iteration.Config
	store         *knowledge.Store
	rules         *iteration.RuleTable
}

// PoolOption adjusts pool construction.
type PoolOption func(*Pool)

// WithConcurrency overrides the worker bound.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = int64(n)
		}
	}
}

// WithWeights overrides the dimension weights.
func WithWeights(w Weights) PoolOption {
	return func(p *Pool) { p.weights = w }
}

// WithRuleTable overrides the generic fix rules handed to each controller.
func WithRuleTable(t *iteration.RuleTable) PoolOption {
	return func(p *Pool) { p.rules = t }
}

// NewPool builds a pool over a shared knowledge store. The store may be
// nil; workers then iterate without learning.
func NewPool(cfg iteration.Config, store *knowledge.Store, opts ...PoolOption) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	p := &Pool{
		concurrency:   DefaultConcurrency,
		weights:       DefaultWeights(),
		controllerCfg: cfg,
		store:         store,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dimension weights: %w", err)
	}
	return p, nil
}

// Run iterates and probes every worker, then ranks the reports. A worker
// that ends in a failure state still gets probed and ranked on whatever
// its best attempt produced. The only error Run returns is context
// cancellation.
func (p *Pool) Run(ctx context.Context, workers []Worker) (*Comparison, error) {
	if len(workers) == 0 {
		return &Comparison{}, nil
	}

	logging.Orchestrator("Running %d workers with concurrency %d", len(workers), p.concurrency)

	sem := semaphore.NewWeighted(p.concurrency)
	reports := make([]WorkerReport, len(workers))
	var wg sync.WaitGroup

	for i := range workers {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, fmt.Errorf("orchestrator cancelled: %w", err)
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)
			reports[idx] = p.runWorker(ctx, workers[idx])
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return Compare(reports, p.weights), nil
}

// runWorker drives one worker through iteration and probing.
func (p *Pool) runWorker(ctx context.Context, w Worker) WorkerReport {
	start := time.Now()
	audit := logging.AuditWithWorker("", w.ID)
	audit.Event(logging.AuditWorkerStart, w.Task.ID, true, nil)

	report := WorkerReport{WorkerID: w.ID, Scores: DimensionScores{}}

	controller, err := iteration.NewController(p.controllerCfg, p.store, w.Executor)
	if err != nil {
		logging.OrchestratorWarn("Worker %s skipped: %v", w.ID, err)
		report.ProbeErrors = append(report.ProbeErrors, ProbeError{
			Dimension: DimensionCoreTest,
			Message:   err.Error(),
		})
		report.Duration = time.Since(start)
		return report
	}
	if p.rules != nil {
		controller.SetRuleTable(p.rules)
	}
	controller.SetAudit(audit)

	ws := w.Workspace
	if ws.WorkerID == "" {
		ws.WorkerID = w.ID
	}
	report.Outcome = controller.Run(ctx, w.Task, ws)
	report.Scores[DimensionCoreTest] = report.Outcome.BestScore

	p.runProbes(ctx, w, &report)

	report.Overall = p.weights.Aggregate(report.Scores)
	report.Duration = time.Since(start)

	audit.Event(logging.AuditWorkerComplete, w.Task.ID, report.Outcome.FinalState == iteration.StateSuccess,
		map[string]interface{}{"overall": report.Overall, "state": string(report.Outcome.FinalState)})
	logging.Orchestrator("Worker %s finished: state=%s overall=%.1f", w.ID, report.Outcome.FinalState, report.Overall)
	return report
}

// runProbes measures the remaining dimensions concurrently. Every probe
// runs to completion; a failure zeroes only its own dimension.
func (p *Pool) runProbes(ctx context.Context, w Worker, report *WorkerReport) {
	type probeOutcome struct {
		dim   Dimension
		score float64
		err   error
	}

	var wg sync.WaitGroup
	results := make(chan probeOutcome, len(w.Probes))

	for dim, pr := range w.Probes {
		if dim == DimensionCoreTest || pr == nil {
			continue
		}
		wg.Add(1)
		go func(dim Dimension, pr probe.Probe) {
			defer wg.Done()
			probeStart := time.Now()
			score, err := pr.Run(ctx, w.ID)
			duration := time.Since(probeStart)

			out := probeOutcome{dim: dim, err: err}
			if err == nil && score != nil {
				out.score = score.Value
			}
			logging.AuditWithWorker("", w.ID).ProbeResult(string(dim), out.score, duration, err)
			results <- out
		}(dim, pr)
	}
	wg.Wait()
	close(results)

	for out := range results {
		report.Scores[out.dim] = out.score
		if out.err != nil {
			logging.OrchestratorWarn("Probe %s failed for worker %s: %v", out.dim, w.ID, out.err)
			report.ProbeErrors = append(report.ProbeErrors, ProbeError{
				Dimension: out.dim,
				Message:   out.err.Error(),
			})
		}
	}
	sort.Slice(report.ProbeErrors, func(i, j int) bool {
		return report.ProbeErrors[i].Dimension < report.ProbeErrors[j].Dimension
	})
}
