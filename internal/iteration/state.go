// Package iteration implements the smart iteration controller: a bounded
// retry state machine that re-drives an opaque attempt executor with
// progressively patched input, learning candidate fixes from the knowledge
// store along the way. The controller understands nothing about what an
// attempt actually does - it only sees errors, scores and improvement.
package iteration

// State is the controller's run state. Running is the only non-terminal
// state; transitions into a terminal state are one-way, there is no
// resuming a finished run.
type State string

const (
	StateRunning       State = "running"
	StateSuccess       State = "success"
	StateMaxAttempts   State = "max_attempts"
	StateNoProgress    State = "no_progress"
	StateCriticalError State = "critical_error"
	StateTimeout       State = "timeout"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s != StateRunning
}
