package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"crucible/internal/orchestrator"
)

func writeConfig(t *testing.T, workspace, content string) {
	t.Helper()
	dir := filepath.Join(workspace, DotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	workspace := t.TempDir()

	cfg, err := Load(workspace)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Knowledge.Backend != "file" {
		t.Errorf("backend = %q, want file", cfg.Knowledge.Backend)
	}
	if cfg.Iteration.MaxAttempts != 10 {
		t.Errorf("max attempts = %d, want 10", cfg.Iteration.MaxAttempts)
	}
	if cfg.Orchestrator.Concurrency != orchestrator.DefaultConcurrency {
		t.Errorf("concurrency = %d, want %d", cfg.Orchestrator.Concurrency, orchestrator.DefaultConcurrency)
	}
	if got := cfg.Knowledge.Path; got != filepath.Join(workspace, DotDir, "knowledge.json") {
		t.Errorf("knowledge path = %q", got)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	workspace := t.TempDir()
	writeConfig(t, workspace, `
knowledge:
  backend: sqlite
  path: /tmp/kb.db
iteration:
  max_attempts: 5
  attempt_timeout_sec: 30
probes:
  - dimension: code_quality
    type: script
    command: "npm run lint"
  - dimension: api
    type: http
    url: "http://localhost:3000/health"
`)

	cfg, err := Load(workspace)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Knowledge.Backend != "sqlite" {
		t.Errorf("backend = %q, want sqlite", cfg.Knowledge.Backend)
	}
	if cfg.Iteration.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Iteration.MaxAttempts)
	}
	// Untouched sections keep their defaults.
	if cfg.Iteration.StallLimit != 3 {
		t.Errorf("stall limit = %d, want default 3", cfg.Iteration.StallLimit)
	}

	iterCfg := cfg.IterationConfig()
	if iterCfg.AttemptTimeout != 30*time.Second {
		t.Errorf("attempt timeout = %v, want 30s", iterCfg.AttemptTimeout)
	}

	probes := cfg.BuildProbes(workspace)
	if len(probes) != 2 {
		t.Fatalf("built %d probes, want 2", len(probes))
	}
	if probes[orchestrator.DimensionCodeQuality] == nil || probes[orchestrator.DimensionAPI] == nil {
		t.Error("expected code_quality and api probes")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad backend", "knowledge:\n  backend: mongo\n"},
		{"negative attempts", "iteration:\n  max_attempts: -1\n"},
		{"script probe without command", "probes:\n  - dimension: code_quality\n    type: script\n"},
		{"unknown probe type", "probes:\n  - dimension: api\n    type: grpc\n    url: x\n"},
		{"weights not summing", "orchestrator:\n  weights:\n    core_test: 0.9\n    code_quality: 0.9\n"},
		{"unparseable yaml", "knowledge: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			workspace := t.TempDir()
			writeConfig(t, workspace, tc.content)
			if _, err := Load(workspace); err == nil {
				t.Error("Load accepted invalid config")
			}
		})
	}
}

func TestRedisAddrEnvOverride(t *testing.T) {
	workspace := t.TempDir()
	writeConfig(t, workspace, "knowledge:\n  redis_addr: \"localhost:6379\"\n")
	t.Setenv("CRUCIBLE_REDIS_ADDR", "10.0.0.5:6380")

	cfg, err := Load(workspace)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Knowledge.RedisAddr != "10.0.0.5:6380" {
		t.Errorf("redis addr = %q, want env override", cfg.Knowledge.RedisAddr)
	}
}

func TestWeightsFallBackToDefaults(t *testing.T) {
	cfg := Default(t.TempDir())
	if err := cfg.Weights().Validate(); err != nil {
		t.Fatalf("default weights invalid: %v", err)
	}
}
