package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"crucible/internal/iteration"
	"crucible/internal/logging"
	"crucible/internal/orchestrator"
)

// Manifest describes one validation session's workers.
type Manifest struct {
	Task struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description,omitempty"`
	} `yaml:"task"`
	Workers []struct {
		ID      string `yaml:"id"`
		Command string `yaml:"command"`
		Dir     string `yaml:"dir,omitempty"`
	} `yaml:"workers"`
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(m.Workers) == 0 {
		return nil, fmt.Errorf("manifest %s declares no workers", path)
	}
	for i, w := range m.Workers {
		if w.Command == "" {
			return nil, fmt.Errorf("manifest worker %d has no command", i)
		}
	}
	return &m, nil
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	manifest, err := loadManifest(args[0])
	if err != nil {
		return err
	}

	cfg, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionID := cfg.Session.ID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := logging.InitAudit(); err != nil {
		logger.Warn("audit trail unavailable", zap.Error(err))
	}
	audit := logging.AuditWithSession(sessionID)
	audit.Event(logging.AuditSessionStart, manifest.Task.ID, true,
		map[string]interface{}{"workers": len(manifest.Workers)})

	var rules *iteration.RuleTable
	if path := cfg.Iteration.RuleTablePath; path != "" {
		rules, err = iteration.LoadRuleTable(path)
		if err != nil {
			return fmt.Errorf("failed to load fix rules: %w", err)
		}
	}

	task := iteration.Task{ID: manifest.Task.ID, Description: manifest.Task.Description}
	var workers []orchestrator.Worker
	for _, w := range manifest.Workers {
		dir := w.Dir
		if dir != "" && !filepath.IsAbs(dir) {
			dir = filepath.Join(workspace, dir)
		}
		workers = append(workers, orchestrator.Worker{
			ID:        w.ID,
			Task:      task,
			Workspace: iteration.Workspace{WorkerID: w.ID, Dir: dir},
			Executor:  &iteration.ShellExecutor{Command: w.Command},
			Probes:    cfg.BuildProbes(dir),
		})
	}

	poolOpts := []orchestrator.PoolOption{
		orchestrator.WithWeights(cfg.Weights()),
	}
	if cfg.Orchestrator.Concurrency > 0 {
		poolOpts = append(poolOpts, orchestrator.WithConcurrency(cfg.Orchestrator.Concurrency))
	}
	if rules != nil {
		poolOpts = append(poolOpts, orchestrator.WithRuleTable(rules))
	}

	pool, err := orchestrator.NewPool(cfg.IterationConfig(), store, poolOpts...)
	if err != nil {
		return err
	}

	logger.Info("starting session",
		zap.String("session", sessionID),
		zap.String("task", manifest.Task.ID),
		zap.Int("workers", len(workers)))

	comparison, err := pool.Run(ctx, workers)
	if err != nil {
		return err
	}

	store.EndSession(ctx)
	audit.Event(logging.AuditSessionEnd, manifest.Task.ID, true, nil)

	printComparison(cmd, comparison)
	return nil
}

func printComparison(cmd *cobra.Command, c *orchestrator.Comparison) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "\n=== Session Results (batch average %.1f) ===\n\n", c.Overall)
	for _, r := range c.Ranked {
		state := "unknown"
		attempts := 0
		if r.Outcome != nil {
			state = string(r.Outcome.FinalState)
			attempts = r.Outcome.TotalAttempts
		}
		fmt.Fprintf(out, "#%d %-16s overall=%5.1f pct=%5.1f state=%-14s attempts=%d\n",
			r.Rank, r.WorkerID, r.Overall, r.Percentile, state, attempts)
		for _, dim := range orchestrator.Dimensions() {
			fmt.Fprintf(out, "     %-14s %.1f\n", dim, r.Scores[dim])
		}
		for _, pe := range r.ProbeErrors {
			fmt.Fprintf(out, "     probe %s failed: %s\n", pe.Dimension, pe.Message)
		}
	}

	fmt.Fprintf(out, "\nDimension winners:\n")
	for _, dim := range orchestrator.Dimensions() {
		fmt.Fprintf(out, "  %-14s %s (avg %.1f)\n", dim, c.Winners[dim], c.Averages[dim])
	}
	fmt.Fprintln(out, strings.Repeat("=", 46))
}
