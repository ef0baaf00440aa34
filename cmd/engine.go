package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/config"
	"github.com/davidschrooten/training-search/internal/elastic"
	"github.com/davidschrooten/training-search/internal/search"
)

// connectEngine dials the configured backend until it answers a ping
func connectEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (search.Engine, error) {
	var dial search.Dialer
	switch cfg.Engine.Backend {
	case config.BackendBleve:
		dial = search.NewBleveDialer(cfg.Engine, logger)
	case config.BackendElasticsearch:
		dial = elastic.NewDialer(cfg.Engine, logger)
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}

	logger.Info("Connecting to search engine",
		zap.String("backend", cfg.Engine.Backend),
		zap.String("address", cfg.Engine.Address()),
		zap.Int("max_attempts", cfg.Engine.MaxAttempts),
	)

	engine, err := search.ConnectWithRetry(ctx, dial, search.RetryConfig{
		MaxAttempts: cfg.Engine.MaxAttempts,
		Delay:       cfg.Engine.Delay(),
	}, search.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to search engine: %w", err)
	}
	return engine, nil
}
