package iteration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"crucible/internal/knowledge"
)

// ShellExecutor validates an artifact by running a shell command in its
// workspace. The command reports back on its last output line, either a
// JSON object {"score":N,"success":bool,"errors":[...]} or a bare score
// number. Non-zero exit without a parseable report scores 0 with the
// combined output as the error.
type ShellExecutor struct {
	Command string
}

type shellReport struct {
	Score    float64  `json:"score"`
	Success  bool     `json:"success"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (e *ShellExecutor) Execute(ctx context.Context, _ Task, ws Workspace) (*Result, error) {
	command := strings.TrimSpace(e.Command)
	if command == "" {
		return nil, fmt.Errorf("shell executor has no command")
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", command)
	} else {
		cmd = exec.CommandContext(ctx, "bash", "-lc", command)
	}
	if ws.Dir != "" {
		cmd.Dir = ws.Dir
	}
	cmd.Env = appendFixEnv(ws)

	out, runErr := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("validation command interrupted: %w", ctx.Err())
	}

	if result, ok := parseReport(string(out)); ok {
		return result, nil
	}
	if runErr != nil {
		return &Result{
			Score: 0,
			Errors: []knowledge.ErrorInput{{
				Message: lastLines(string(out), 5),
			}},
		}, nil
	}
	return &Result{Score: 100, Success: true}, nil
}

// appendFixEnv exposes the applied fixes to the command so validation
// scripts can act on them.
func appendFixEnv(ws Workspace) []string {
	env := append([]string(nil), os.Environ()...)
	env = append(env, "CRUCIBLE_WORKER_ID="+ws.WorkerID)
	for i, f := range ws.AppliedFixes {
		env = append(env, fmt.Sprintf("CRUCIBLE_FIX_%d=%s", i+1, f.Solution))
	}
	return env
}

// parseReport reads the trailing non-empty output line as a result.
func parseReport(out string) (*Result, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "{") {
			var report shellReport
			if err := json.Unmarshal([]byte(line), &report); err != nil {
				return nil, false
			}
			result := &Result{Score: report.Score, Success: report.Success, Warnings: report.Warnings}
			for _, msg := range report.Errors {
				result.Errors = append(result.Errors, knowledge.ErrorInput{Message: msg})
			}
			return result, true
		}

		line = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(line), "score:"))
		score, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, false
		}
		return &Result{Score: score, Success: score >= DefaultSuccessScore}, true
	}
	return nil, false
}

func lastLines(out string, n int) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
