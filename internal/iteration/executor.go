package iteration

import (
	"context"
	"time"

	"crucible/internal/diff"
	"crucible/internal/knowledge"
)

// Task describes one unit of work to validate. The controller passes it
// through to the executor untouched.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Workspace is the execution context handed to each attempt. AppliedFixes
// carries the fixes the controller selected for this attempt; the executor
// decides what applying them means for its artifact.
type Workspace struct {
	WorkerID     string `json:"worker_id"`
	Dir          string `json:"dir"`
	AppliedFixes []Fix  `json:"applied_fixes,omitempty"`
}

// Result is what one attempt reports back.
type Result struct {
	Errors       []knowledge.ErrorInput `json:"errors"`
	Warnings     []string               `json:"warnings,omitempty"`
	FixesApplied []string               `json:"fixes_applied,omitempty"`
	Score        float64                `json:"score"` // 0-100
	Success      bool                   `json:"success"`
}

// Executor is the boundary interface for a single validation attempt.
// Implementations may be slow and side-effecting; the controller wraps
// every call in the per-attempt timeout.
type Executor interface {
	Execute(ctx context.Context, task Task, ws Workspace) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task Task, ws Workspace) (*Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task Task, ws Workspace) (*Result, error) {
	return f(ctx, task, ws)
}

// AttemptResult is the immutable record of one attempt. ErrorDelta tracks
// how the error set moved relative to the previous attempt, over
// normalized signatures.
type AttemptResult struct {
	AttemptNumber int                    `json:"attempt_number"`
	Score         float64                `json:"score"`
	Success       bool                   `json:"success"`
	Errors        []knowledge.ErrorInput `json:"errors,omitempty"`
	FixesApplied  []string               `json:"fixes_applied,omitempty"`
	Improvement   float64                `json:"improvement"`
	ErrorDelta    *diff.Delta            `json:"error_delta,omitempty"`
	Duration      time.Duration          `json:"duration"`
	State         State                  `json:"state"`
}

// Outcome is the terminal summary of one controller run. BestScore and
// BestAttempt point at the highest-scoring attempt even when the run ends
// in a non-success state - a worker that never converges still reports its
// best result and full history for diagnosis.
type Outcome struct {
	FinalState    State           `json:"final_state"`
	TotalAttempts int             `json:"total_attempts"`
	BestScore     float64         `json:"best_score"`
	BestAttempt   int             `json:"best_attempt"`
	History       []AttemptResult `json:"history"`
}
