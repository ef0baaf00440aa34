package cmd

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/config"
	"github.com/davidschrooten/training-search/internal/catalog"
	"github.com/davidschrooten/training-search/internal/indexer"
	logpkg "github.com/davidschrooten/training-search/internal/logger"
	"github.com/davidschrooten/training-search/internal/search"
	syncstate "github.com/davidschrooten/training-search/internal/sync"
)

// loadConfig reads configuration with bound command line flags taking precedence
func loadConfig(v *viper.Viper) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logpkg.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// newIndexer wires the catalog fetcher and persisted run state into an indexer
func newIndexer(cfg *config.Config, engine search.Engine, logger *zap.Logger) *indexer.Service {
	state := syncstate.NewStateManager(cfg.Indexer.StatePath, logger)
	if err := state.Load(); err != nil {
		logger.Warn("Failed to load reindex state, starting fresh", zap.Error(err))
	}

	fetcher := catalog.NewFetcher(cfg.Catalog, logger)
	return indexer.NewService(engine, fetcher, cfg.Engine.IndexName, state, logger)
}
