package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/config"
	"github.com/davidschrooten/training-search/internal/indexer"
)

// reindexCmd rebuilds the index once and exits
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the catalog and exit",
	RunE:  runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := connectEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	summary, err := newIndexer(cfg, engine, logger).Reindex(ctx, indexer.TriggerCLI)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	logger.Info("Reindex finished",
		zap.String("index", summary.Index),
		zap.Int("fetched", summary.Fetched),
		zap.Int("indexed", summary.Indexed),
		zap.Int("failed", summary.Failed),
		zap.Int("rejected", summary.Rejected),
		zap.Duration("duration", summary.Duration),
	)
	return nil
}
