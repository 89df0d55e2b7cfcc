// Package config loads the .crucible workspace configuration. Every
// setting has a default; a missing config file means defaults apply.
// Invalid settings fail at load, before any session starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"crucible/internal/iteration"
	"crucible/internal/knowledge"
	"crucible/internal/orchestrator"
)

// DotDir is the workspace configuration directory.
const DotDir = ".crucible"

// SessionConfig bounds one validation session.
type SessionConfig struct {
	ID          string `yaml:"id,omitempty"`
	Concurrency int    `yaml:"concurrency"`
}

// KnowledgeConfig selects and tunes the knowledge store.
type KnowledgeConfig struct {
	Backend            string  `yaml:"backend"` // memory | file | sqlite | hybrid
	Path               string  `yaml:"path"`
	RedisAddr          string  `yaml:"redis_addr,omitempty"`
	Threshold          float64 `yaml:"threshold"`
	IdenticalThreshold float64 `yaml:"identical_threshold"`
	MaxEntries         int     `yaml:"max_entries"`
	SessionTTLMin      int     `yaml:"session_ttl_min"`
	RetentionDays      int     `yaml:"retention_days"`
}

// IterationConfig bounds each worker's retry loop.
type IterationConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	AttemptTimeoutSec int     `yaml:"attempt_timeout_sec"`
	SuccessScore      float64 `yaml:"success_score"`
	StallLimit        int     `yaml:"stall_limit"`
	CriticalLimit     int     `yaml:"critical_limit"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxDelaySec       int     `yaml:"max_delay_sec"`
	RuleTablePath     string  `yaml:"rule_table,omitempty"`
}

// ProbeConfig declares one dimension probe.
type ProbeConfig struct {
	Dimension  string   `yaml:"dimension"`
	Type       string   `yaml:"type"` // script | http | browser
	Command    string   `yaml:"command,omitempty"`
	URL        string   `yaml:"url,omitempty"`
	Selectors  []string `yaml:"selectors,omitempty"`
	TimeoutSec int      `yaml:"timeout_sec,omitempty"`
}

// OrchestratorConfig tunes the worker pool.
type OrchestratorConfig struct {
	Concurrency int                `yaml:"concurrency"`
	Weights     map[string]float64 `yaml:"weights,omitempty"`
}

// LoggingConfig mirrors the .crucible/config.json debug switches for the
// YAML surface.
type LoggingConfig struct {
	DebugMode  bool     `yaml:"debug_mode"`
	Categories []string `yaml:"categories,omitempty"`
	JSONFormat bool     `yaml:"json_format"`
}

// Config is the full workspace configuration.
type Config struct {
	Session      SessionConfig      `yaml:"session"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Iteration    IterationConfig    `yaml:"iteration"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Probes       []ProbeConfig      `yaml:"probes,omitempty"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Default returns the standard configuration rooted at the given
// workspace.
func Default(workspace string) *Config {
	kOpts := knowledge.DefaultOptions(filepath.Join(workspace, DotDir, "knowledge.json"))
	iCfg := iteration.DefaultConfig()
	return &Config{
		Session: SessionConfig{Concurrency: orchestrator.DefaultConcurrency},
		Knowledge: KnowledgeConfig{
			Backend:            kOpts.Backend,
			Path:               kOpts.Path,
			Threshold:          kOpts.Threshold,
			IdenticalThreshold: kOpts.IdenticalThreshold,
			MaxEntries:         kOpts.MaxEntries,
			SessionTTLMin:      int(kOpts.SessionTTL / time.Minute),
			RetentionDays:      int(kOpts.Retention / (24 * time.Hour)),
		},
		Iteration: IterationConfig{
			MaxAttempts:       iCfg.MaxAttempts,
			AttemptTimeoutSec: int(iCfg.AttemptTimeout / time.Second),
			SuccessScore:      iCfg.SuccessScore,
			StallLimit:        iCfg.StallLimit,
			CriticalLimit:     iCfg.CriticalLimit,
			InitialDelayMs:    int(iCfg.InitialDelay / time.Millisecond),
			BackoffMultiplier: iCfg.BackoffMultiplier,
			MaxDelaySec:       int(iCfg.MaxDelay / time.Second),
		},
		Orchestrator: OrchestratorConfig{Concurrency: orchestrator.DefaultConcurrency},
	}
}

// Load reads the workspace config, layering the file over defaults. A
// missing file is not an error. CRUCIBLE_REDIS_ADDR overrides the
// configured redis address.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, DotDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if addr := os.Getenv("CRUCIBLE_REDIS_ADDR"); addr != "" {
		cfg.Knowledge.RedisAddr = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast. Every derived options struct re-validates itself
// at construction; this pass catches config-only mistakes early with the
// file path context still available.
func (c *Config) Validate() error {
	if err := c.KnowledgeOptions().Validate(); err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	if c.Iteration.MaxAttempts < 0 || c.Iteration.StallLimit < 0 || c.Iteration.CriticalLimit < 0 {
		return fmt.Errorf("iteration: limits must be non-negative")
	}
	if c.Iteration.BackoffMultiplier != 0 && c.Iteration.BackoffMultiplier < 1 {
		return fmt.Errorf("iteration: backoff multiplier must be >= 1, got %.2f", c.Iteration.BackoffMultiplier)
	}
	if err := c.IterationConfig().Validate(); err != nil {
		return fmt.Errorf("iteration: %w", err)
	}
	if c.Orchestrator.Concurrency < 0 {
		return fmt.Errorf("orchestrator: concurrency must be non-negative, got %d", c.Orchestrator.Concurrency)
	}
	if len(c.Orchestrator.Weights) > 0 {
		if err := c.Weights().Validate(); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
	}
	for i, p := range c.Probes {
		if p.Dimension == "" {
			return fmt.Errorf("probe %d: missing dimension", i)
		}
		switch p.Type {
		case "script":
			if p.Command == "" {
				return fmt.Errorf("probe %d (%s): script probe needs a command", i, p.Dimension)
			}
		case "http", "browser":
			if p.URL == "" {
				return fmt.Errorf("probe %d (%s): %s probe needs a url", i, p.Dimension, p.Type)
			}
		default:
			return fmt.Errorf("probe %d (%s): unknown type %q", i, p.Dimension, p.Type)
		}
	}
	return nil
}

// KnowledgeOptions converts the knowledge section to store options.
func (c *Config) KnowledgeOptions() knowledge.Options {
	opts := knowledge.DefaultOptions(c.Knowledge.Path)
	opts.Backend = c.Knowledge.Backend
	opts.RedisAddr = c.Knowledge.RedisAddr
	opts.Threshold = c.Knowledge.Threshold
	opts.IdenticalThreshold = c.Knowledge.IdenticalThreshold
	opts.MaxEntries = c.Knowledge.MaxEntries
	if c.Knowledge.SessionTTLMin > 0 {
		opts.SessionTTL = time.Duration(c.Knowledge.SessionTTLMin) * time.Minute
	}
	if c.Knowledge.RetentionDays > 0 {
		opts.Retention = time.Duration(c.Knowledge.RetentionDays) * 24 * time.Hour
	}
	return opts
}

// IterationConfig converts the iteration section to controller config.
func (c *Config) IterationConfig() iteration.Config {
	cfg := iteration.DefaultConfig()
	if c.Iteration.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Iteration.MaxAttempts
	}
	if c.Iteration.AttemptTimeoutSec > 0 {
		cfg.AttemptTimeout = time.Duration(c.Iteration.AttemptTimeoutSec) * time.Second
	}
	if c.Iteration.SuccessScore > 0 {
		cfg.SuccessScore = c.Iteration.SuccessScore
	}
	if c.Iteration.StallLimit > 0 {
		cfg.StallLimit = c.Iteration.StallLimit
	}
	if c.Iteration.CriticalLimit > 0 {
		cfg.CriticalLimit = c.Iteration.CriticalLimit
	}
	if c.Iteration.InitialDelayMs > 0 {
		cfg.InitialDelay = time.Duration(c.Iteration.InitialDelayMs) * time.Millisecond
	}
	if c.Iteration.BackoffMultiplier >= 1 {
		cfg.BackoffMultiplier = c.Iteration.BackoffMultiplier
	}
	if c.Iteration.MaxDelaySec > 0 {
		cfg.MaxDelay = time.Duration(c.Iteration.MaxDelaySec) * time.Second
	}
	return cfg
}

// Weights converts the orchestrator weight overrides, falling back to the
// defaults when the section is absent.
func (c *Config) Weights() orchestrator.Weights {
	if len(c.Orchestrator.Weights) == 0 {
		return orchestrator.DefaultWeights()
	}
	w := orchestrator.Weights{}
	for name, weight := range c.Orchestrator.Weights {
		w[orchestrator.Dimension(name)] = weight
	}
	return w
}
