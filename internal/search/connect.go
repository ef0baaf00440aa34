package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidschrooten/training-search/internal/metrics"
)

// RetryConfig bounds the connection loop. Delay is fixed between attempts.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

type connectOptions struct {
	sleep  SleepFunc
	logger *zap.Logger
}

// ConnectOption configures ConnectWithRetry
type ConnectOption func(*connectOptions)

// WithSleep replaces the wait between attempts
func WithSleep(sleep SleepFunc) ConnectOption {
	return func(o *connectOptions) { o.sleep = sleep }
}

// WithLogger sets the logger used to report attempts
func WithLogger(logger *zap.Logger) ConnectOption {
	return func(o *connectOptions) { o.logger = logger }
}

// ConnectWithRetry dials the engine and pings it until it answers, at most
// cfg.MaxAttempts times. A failed attempt closes the handle it dialed. There is
// no wait after the final attempt. When every attempt fails the returned
// error wraps ErrUnavailable.
func ConnectWithRetry(ctx context.Context, dial Dialer, cfg RetryConfig, opts ...ConnectOption) (Engine, error) {
	o := connectOptions{sleep: sleepContext, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		engine, err := dial(ctx)
		if err != nil {
			metrics.EngineConnectAttempts.WithLabelValues("dial_error").Inc()
			lastErr = fmt.Errorf("dial: %w", err)
		} else if err := engine.Ping(ctx); err != nil {
			metrics.EngineConnectAttempts.WithLabelValues("ping_error").Inc()
			_ = engine.Close()
			lastErr = fmt.Errorf("ping: %w", err)
		} else {
			metrics.EngineConnectAttempts.WithLabelValues("ok").Inc()
			o.logger.Info("Connected to search engine", zap.Int("attempt", attempt))
			return engine, nil
		}

		o.logger.Warn("Search engine not reachable",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr))

		if attempt < attempts {
			if err := o.sleep(ctx, cfg.Delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
