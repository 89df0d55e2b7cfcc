package iteration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crucible/internal/diff"
	"crucible/internal/knowledge"
	"crucible/internal/logging"
	"crucible/internal/normalize"
)

// Config defaults.
const (
	DefaultMaxAttempts        = 10
	DefaultAttemptTimeout     = 5 * time.Minute
	DefaultSuccessScore       = 80.0
	DefaultProgressThreshold  = 0.1
	DefaultStallLimit         = 3
	DefaultCriticalLimit      = 3
	DefaultInitialDelay       = time.Second
	DefaultBackoffMultiplier  = 1.5
	DefaultMaxDelay           = 30 * time.Second
	DefaultMaxFixesPerAttempt = 5
	DefaultMinFixConfidence   = 0.6
)

// Config bounds a controller run.
type Config struct {
	MaxAttempts        int
	AttemptTimeout     time.Duration
	SuccessScore       float64
	ProgressThreshold  float64
	StallLimit         int
	CriticalLimit      int
	InitialDelay       time.Duration
	BackoffMultiplier  float64
	MaxDelay           time.Duration
	MaxFixesPerAttempt int
	MinFixConfidence   float64
}

// DefaultConfig returns the standard iteration bounds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        DefaultMaxAttempts,
		AttemptTimeout:     DefaultAttemptTimeout,
		SuccessScore:       DefaultSuccessScore,
		ProgressThreshold:  DefaultProgressThreshold,
		StallLimit:         DefaultStallLimit,
		CriticalLimit:      DefaultCriticalLimit,
		InitialDelay:       DefaultInitialDelay,
		BackoffMultiplier:  DefaultBackoffMultiplier,
		MaxDelay:           DefaultMaxDelay,
		MaxFixesPerAttempt: DefaultMaxFixesPerAttempt,
		MinFixConfidence:   DefaultMinFixConfidence,
	}
}

// Validate fails fast on bounds the controller cannot run with.
// Configuration errors surface at construction, before any attempt runs.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %v", c.AttemptTimeout)
	}
	if c.SuccessScore <= 0 || c.SuccessScore > 100 {
		return fmt.Errorf("success score must be in (0,100], got %.1f", c.SuccessScore)
	}
	if c.ProgressThreshold < 0 {
		return fmt.Errorf("progress threshold must be non-negative, got %.2f", c.ProgressThreshold)
	}
	if c.StallLimit <= 0 || c.CriticalLimit <= 0 {
		return fmt.Errorf("stall and critical limits must be positive, got %d/%d", c.StallLimit, c.CriticalLimit)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %.2f", c.BackoffMultiplier)
	}
	if c.MinFixConfidence < 0 || c.MinFixConfidence >= 1 {
		return fmt.Errorf("min fix confidence must be in [0,1), got %.2f", c.MinFixConfidence)
	}
	return nil
}

// Controller drives bounded validation attempts against one worker's
// artifact. The knowledge store handle is injected: every controller (and
// every test) can run against its own isolated store.
type Controller struct {
	cfg      Config
	store    *knowledge.Store
	executor Executor
	rules    *RuleTable
	audit    *logging.AuditLogger

	// sleep is swappable so tests drive backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController builds a controller. The store may be nil, which disables
// learning but never validation.
func NewController(cfg Config, store *knowledge.Store, executor Executor) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid iteration config: %w", err)
	}
	if executor == nil {
		return nil, fmt.Errorf("iteration controller requires an executor")
	}
	return &Controller{
		cfg:      cfg,
		store:    store,
		executor: executor,
		rules:    DefaultRuleTable(),
		audit:    logging.Audit(),
		sleep:    sleepContext,
	}, nil
}

// SetRuleTable replaces the generic-fix rules.
func (c *Controller) SetRuleTable(table *RuleTable) {
	if table != nil {
		c.rules = table
	}
}

// SetAudit scopes the controller's audit trail.
func (c *Controller) SetAudit(audit *logging.AuditLogger) {
	if audit != nil {
		c.audit = audit
	}
}

// Run executes the retry loop until a terminal state. The returned outcome
// always carries the full attempt history and the best-scoring attempt,
// whatever the final state.
func (c *Controller) Run(ctx context.Context, task Task, ws Workspace) *Outcome {
	start := time.Now()
	wallBudget := time.Duration(c.cfg.MaxAttempts) * c.cfg.AttemptTimeout

	outcome := &Outcome{FinalState: StateRunning}
	var pending []*Fix
	var prevScore float64
	var prevSignatures []string
	var prevErrorIDs map[string]string
	stallCount := 0
	criticalCount := 0

	logging.Iteration("Starting run for worker=%s task=%s (max %d attempts)",
		ws.WorkerID, task.ID, c.cfg.MaxAttempts)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		// Apply the best accumulated fixes before re-executing. Attempt 1
		// always runs clean: candidate fixes only derive from prior attempts.
		ws.AppliedFixes = nil
		if attempt > 1 {
			ws.AppliedFixes = selectFixes(pending, c.cfg.MaxFixesPerAttempt, c.cfg.MinFixConfidence)
			for _, f := range ws.AppliedFixes {
				c.audit.Event(logging.AuditFixApplied, f.Solution, true, map[string]interface{}{
					"attempt":    attempt,
					"confidence": f.Confidence,
					"source":     string(f.Source),
				})
			}
		}

		attemptStart := time.Now()
		result, execErr := c.executeAttempt(ctx, task, ws)
		attemptDuration := time.Since(attemptStart)

		isCritical := execErr != nil
		if isCritical {
			criticalCount++
			logging.IterationWarn("Attempt %d critical error for worker=%s: %v", attempt, ws.WorkerID, execErr)
			result = &Result{Errors: []knowledge.ErrorInput{{Message: execErr.Error()}}}
		}

		improvement := 0.0
		if attempt > 1 {
			improvement = result.Score - prevScore
		}
		prevScore = result.Score

		// Learn from this attempt's errors: a knowledge hit becomes a
		// candidate fix at the match similarity; a miss falls back to a
		// low-confidence rule-table hint.
		signatures := make([]string, 0, len(result.Errors))
		errorIDs := make(map[string]string, len(result.Errors))
		for _, errInput := range result.Errors {
			sig := normalize.Signature(errInput.Message)
			signatures = append(signatures, sig)
			errorID, fixes := c.captureError(ctx, ws.WorkerID, errInput, task.Description)
			if errorID != "" {
				errorIDs[sig] = errorID
			}
			pending = append(pending, fixes...)
		}

		var errorDelta *diff.Delta
		if attempt > 1 {
			errorDelta = diff.Errors(prevSignatures, signatures)
			if !errorDelta.Empty() {
				logging.IterationDebug("Attempt %d error delta for worker=%s: +%d -%d =%d",
					attempt, ws.WorkerID, len(errorDelta.Added), len(errorDelta.Removed), len(errorDelta.Persisted))
			}
		}

		// Improvement after applied fixes confirms them; flat or worse
		// feeds back as failure so unreliable entries decay. Errors the
		// delta shows resolved are credited separately, covering fixes the
		// executor applied on its own.
		credited := c.settleAppliedFixes(ctx, ws, improvement)
		c.learnResolved(ctx, ws, result, errorDelta, prevErrorIDs, credited)
		prevSignatures = signatures
		prevErrorIDs = errorIDs

		if improvement >= c.cfg.ProgressThreshold {
			stallCount = 0
		} else {
			stallCount++
		}

		record := AttemptResult{
			AttemptNumber: attempt,
			Score:         result.Score,
			Success:       result.Success,
			Errors:        result.Errors,
			FixesApplied:  fixDescriptions(ws.AppliedFixes),
			Improvement:   improvement,
			ErrorDelta:    errorDelta,
			Duration:      attemptDuration,
			State:         StateRunning,
		}

		next := c.evaluateStop(attempt, result, criticalCount, stallCount, time.Since(start), wallBudget)
		record.State = next
		outcome.History = append(outcome.History, record)
		outcome.TotalAttempts = attempt
		if result.Score > outcome.BestScore || outcome.BestAttempt == 0 {
			outcome.BestScore = result.Score
			outcome.BestAttempt = attempt
		}

		c.audit.Attempt(attempt, result.Score, result.Success, attemptDuration, len(result.Errors))
		logging.IterationDebug("Attempt %d worker=%s score=%.1f improvement=%.1f stall=%d critical=%d state=%s",
			attempt, ws.WorkerID, result.Score, improvement, stallCount, criticalCount, next)

		if next.Terminal() {
			outcome.FinalState = next
			c.audit.StateChange(string(StateRunning), string(next),
				fmt.Sprintf("terminated after %d attempts with best score %.1f", attempt, outcome.BestScore))
			break
		}

		// Backoff before the next attempt, capped and context-aware.
		if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
			criticalCount++
			outcome.FinalState = StateCriticalError
			break
		}
	}

	if outcome.FinalState == StateRunning {
		// The loop can only fall through at MaxAttempts.
		outcome.FinalState = StateMaxAttempts
	}

	logging.Iteration("Run finished for worker=%s: state=%s attempts=%d best=%.1f",
		ws.WorkerID, outcome.FinalState, outcome.TotalAttempts, outcome.BestScore)
	return outcome
}

// executeAttempt invokes the executor under the per-attempt timeout. A
// timeout is attributed to the attempt as a critical error; it does not
// abort the run.
func (c *Controller) executeAttempt(ctx context.Context, task Task, ws Workspace) (*Result, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	type execReturn struct {
		result *Result
		err    error
	}
	done := make(chan execReturn, 1)
	go func() {
		result, err := c.executor.Execute(actx, task, ws)
		done <- execReturn{result, err}
	}()

	select {
	case ret := <-done:
		if ret.err != nil {
			return nil, ret.err
		}
		if ret.result == nil {
			return nil, errors.New("executor returned no result")
		}
		return ret.result, nil
	case <-actx.Done():
		return nil, fmt.Errorf("attempt timed out after %v: %w", c.cfg.AttemptTimeout, actx.Err())
	}
}

// captureError records one reported error in the knowledge store and turns
// the response into candidate fixes. The returned error ID identifies the
// stored record so a later resolution can be credited back to it. Store
// absence or failure degrades to the generic rule table.
func (c *Controller) captureError(ctx context.Context, workerID string, input knowledge.ErrorInput, taskContext string) (string, []*Fix) {
	signature := normalize.Signature(input.Message)

	if c.store != nil {
		errorID, suggestion := c.store.RecordError(ctx, workerID, input, taskContext)
		if suggestion != nil {
			c.audit.KnowledgeHit(signature, suggestion.Similarity, suggestion.Solution)
			return errorID, []*Fix{{
				ErrorID:    errorID,
				EntryID:    suggestion.EntryID,
				Solution:   suggestion.Solution,
				Confidence: suggestion.Similarity / 100,
				Source:     FixSourceKnowledge,
			}}
		}
		c.audit.Event(logging.AuditKnowledgeMiss, signature, false, nil)
		if generic := c.rules.Derive(signature, input.Message); generic != nil {
			generic.ErrorID = errorID
			return errorID, []*Fix{generic}
		}
		return errorID, nil
	}

	if generic := c.rules.Derive(signature, input.Message); generic != nil {
		return "", []*Fix{generic}
	}
	return "", nil
}

// settleAppliedFixes confirms or penalizes the fixes applied this attempt
// based on whether the score moved. Returns the error IDs already credited
// so learnResolved does not record the same resolution twice.
func (c *Controller) settleAppliedFixes(ctx context.Context, ws Workspace, improvement float64) map[string]bool {
	if c.store == nil || len(ws.AppliedFixes) == 0 {
		return nil
	}

	improved := improvement >= c.cfg.ProgressThreshold
	credited := make(map[string]bool, len(ws.AppliedFixes))
	for _, f := range ws.AppliedFixes {
		if improved && f.ErrorID != "" {
			if _, err := c.store.RecordFix(ctx, f.ErrorID, f.Solution, ws.WorkerID); err != nil {
				logging.KnowledgeDebug("Fix confirmation skipped: %v", err)
			} else {
				credited[f.ErrorID] = true
			}
		}
		if f.EntryID != "" {
			c.store.ReportOutcome(ctx, f.EntryID, improved)
		}
	}
	return credited
}

// learnResolved records a confirmed fix for every error the delta shows
// resolved this attempt. The solution is whatever was actually applied:
// fixes the executor reported doing on its own, or the controller's
// selection when the executor reported none. This is the path that gives a
// cold store its first entries, since controller-applied fixes presuppose
// an existing knowledge match.
func (c *Controller) learnResolved(ctx context.Context, ws Workspace, result *Result, delta *diff.Delta, prevErrorIDs map[string]string, credited map[string]bool) {
	if c.store == nil || delta == nil || len(delta.Removed) == 0 {
		return
	}

	solutions := result.FixesApplied
	if len(solutions) == 0 {
		solutions = fixDescriptions(ws.AppliedFixes)
	}
	if len(solutions) == 0 {
		return
	}
	solution := strings.Join(solutions, "; ")

	for _, sig := range delta.Removed {
		errorID := prevErrorIDs[sig]
		if errorID == "" || credited[errorID] {
			continue
		}
		if _, err := c.store.RecordFix(ctx, errorID, solution, ws.WorkerID); err != nil {
			logging.KnowledgeDebug("Resolution credit skipped for %q: %v", sig, err)
		}
	}
}

// evaluateStop applies the stop conditions in their fixed order.
func (c *Controller) evaluateStop(attempt int, result *Result, criticalCount, stallCount int, elapsed, wallBudget time.Duration) State {
	switch {
	case result.Success && result.Score >= c.cfg.SuccessScore:
		return StateSuccess
	case criticalCount >= c.cfg.CriticalLimit:
		return StateCriticalError
	case stallCount >= c.cfg.StallLimit:
		return StateNoProgress
	case elapsed >= wallBudget:
		return StateTimeout
	case attempt == c.cfg.MaxAttempts:
		return StateMaxAttempts
	default:
		return StateRunning
	}
}

// backoffDelay computes the capped exponential delay after an attempt.
func (c *Controller) backoffDelay(attempt int) time.Duration {
	delay := float64(c.cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.cfg.BackoffMultiplier
	}
	if capped := float64(c.cfg.MaxDelay); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fixDescriptions(fixes []Fix) []string {
	if len(fixes) == 0 {
		return nil
	}
	out := make([]string, len(fixes))
	for i, f := range fixes {
		out[i] = f.Solution
	}
	return out
}
