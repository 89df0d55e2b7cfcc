package probe

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"crucible/internal/logging"
)

const defaultScriptTimeout = 2 * time.Minute

// ScriptProbe runs a shell command in the worker's workspace and reads the
// dimension score from the last line of output. A command that prints no
// parseable score is scored on exit status alone: 100 on success, 0 on
// failure.
type ScriptProbe struct {
	Dimension string
	Command   string
	Workdir   string
	Timeout   time.Duration
}

func (p *ScriptProbe) Name() string { return p.Dimension }

func (p *ScriptProbe) Run(ctx context.Context, workerID string) (*Score, error) {
	command := strings.TrimSpace(p.Command)
	if command == "" {
		return nil, fmt.Errorf("script probe %s has no command", p.Dimension)
	}

	tctx, cancel := context.WithTimeout(ctx, timeoutOr(p.Timeout, defaultScriptTimeout))
	defer cancel()

	timer := logging.StartTimer(logging.CategoryProbe, fmt.Sprintf("Script probe %s for worker=%s", p.Dimension, workerID))
	out, err := runShell(tctx, command, p.Workdir)
	timer.Stop()

	if tctx.Err() != nil {
		return nil, fmt.Errorf("script probe %s timed out: %w", p.Dimension, tctx.Err())
	}

	if score, ok := trailingScore(out); ok {
		return &Score{
			Value:   clampScore(score),
			Details: map[string]string{"source": "output", "worker": workerID},
		}, nil
	}
	if err != nil {
		return &Score{
			Value:   0,
			Details: map[string]string{"source": "exit", "error": err.Error()},
		}, nil
	}
	return &Score{Value: 100, Details: map[string]string{"source": "exit"}}, nil
}

func runShell(ctx context.Context, command, workdir string) (string, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", command)
	} else {
		cmd = exec.CommandContext(ctx, "bash", "-lc", command)
	}
	if workdir != "" {
		cmd.Dir = workdir
	}

	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return string(out), ctx.Err()
	}
	if err != nil {
		return string(out), fmt.Errorf("command failed (%s): %w", command, err)
	}
	return string(out), nil
}

// trailingScore parses the last non-empty output line as a score. Accepts
// a bare number or a "score: N" prefix.
func trailingScore(out string) (float64, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(strings.ToLower(line), "score:")
		line = strings.TrimSpace(line)
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
