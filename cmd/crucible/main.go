package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"crucible/internal/config"
	"crucible/internal/knowledge"
	"crucible/internal/logging"
)

var (
	verbose   bool
	workspace string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "crucible - self-healing validation and error-learning engine",
	Long: `crucible runs generated artifacts through bounded validate-diagnose-fix
loops, learns which fixes resolve which error shapes, and ranks parallel
workers by weighted quality dimensions.

Knowledge persists across sessions: the second time an error shape
appears, its known fix is applied before re-validation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		if cfg, err := config.Load(workspace); err == nil {
			if verbose || cfg.Logging.DebugMode {
				if err := logging.EnableDebug(cfg.Logging.Categories, cfg.Logging.JSONFormat); err != nil {
					logger.Warn("debug logging unavailable", zap.Error(err))
				}
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		logging.CloseAudit()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [manifest]",
	Short: "Validate a batch of workers from a session manifest",
	Long: `Loads a YAML manifest describing the workers to validate, runs each
through the iteration controller under bounded concurrency, probes the
survivors across the quality dimensions and prints the ranked comparison.

Manifest format:
  task:
    id: build-42
    description: "generated checkout page"
  workers:
    - id: worker-1
      command: "npm test --prefix apps/w1"
      dir: apps/w1`,
	Args: cobra.ExactArgs(1),
	RunE: runSession,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest [error message]",
	Short: "Look up a known fix for an error message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSuggest,
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export learned knowledge to a portable document",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a knowledge document, merging with existing entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge store statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace root")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*config.Config, *knowledge.Store, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, nil, err
	}
	store, err := knowledge.NewStore(ctx, cfg.KnowledgeOptions())
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}
