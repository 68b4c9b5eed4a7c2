package store

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for counter writes.
type RetryConfig struct {
	MaxRetries int           // Retry attempts after the first call (default: 3)
	BaseDelay  time.Duration // Delay before the first retry (default: 50ms)
	MaxDelay   time.Duration // Upper bound for a single delay (default: 2s)
	Multiplier float64       // Exponential growth factor (default: 2.0)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
	}
}

// withRetry runs fn until it succeeds, returns a non-retryable error, or
// exhausts cfg.MaxRetries.
func withRetry[T any](ctx context.Context, logger *zap.Logger, backend string, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug("store call succeeded after retry",
					zap.String("backend", backend), zap.Int("attempt", attempt+1))
			}
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return zero, err
		}

		if attempt < cfg.MaxRetries {
			delay := backoff(attempt, cfg)
			logger.Warn("store call failed, retrying",
				zap.String("backend", backend),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	var storeErr *StoreError
	if errors.As(lastErr, &storeErr) {
		storeErr.Retryable = false
	}
	return zero, lastErr
}

func shouldRetry(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Retryable
	}
	return isTransient(err)
}

// backoff computes baseDelay * multiplier^attempt, capped and jittered to [0.8, 1.2).
func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	delay *= 0.8 + rand.Float64()*0.4
	return time.Duration(delay)
}
