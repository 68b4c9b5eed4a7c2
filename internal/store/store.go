// Package store persists the completed-run counter of the demo.
//
// The original demo kept this number in browser storage; here it lives in a
// database so it survives restarts and is shared by every connected page.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/config"
)

// CounterKey is the name of the completed-runs counter row.
const CounterKey = "lawsker_demo_runs"

// Counter is a durable monotonically increasing counter.
type Counter interface {
	// Count returns the current value (0 if never incremented).
	Count(ctx context.Context) (int64, error)
	// Increment adds one and returns the new value.
	Increment(ctx context.Context) (int64, error)
	// Reset sets the value back to zero.
	Reset(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// Open creates the counter backend selected by cfg.
func Open(cfg config.StoreConfig, logger *zap.Logger) (Counter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := RetryConfig{
		MaxRetries: cfg.GetRetryMaxRetries(),
		BaseDelay:  cfg.GetRetryBaseDelay(),
		MaxDelay:   cfg.GetRetryMaxDelay(),
		Multiplier: 2.0,
	}

	switch cfg.GetDriver() {
	case config.StoreSQLite:
		return NewSQLiteCounter(cfg.GetDSN(), retry, logger)
	case config.StorePostgres:
		return NewPostgresCounter(cfg.GetDSN(), retry, logger)
	case config.StoreMemory:
		return NewMemoryCounter(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// sqlDialect holds the statements that differ between sqlite and postgres.
type sqlDialect struct {
	create    string
	count     string
	increment string
	reset     string
}

// sqlCounter implements Counter on top of database/sql.
type sqlCounter struct {
	backend string
	db      *sql.DB
	dialect sqlDialect
	retry   RetryConfig
	logger  *zap.Logger
}

func (c *sqlCounter) migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, c.dialect.create); err != nil {
		return newStoreError(c.backend, "migrate", err)
	}
	return nil
}

func (c *sqlCounter) Count(ctx context.Context) (int64, error) {
	var value int64
	err := c.db.QueryRowContext(ctx, c.dialect.count, CounterKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, newStoreError(c.backend, "count", err)
	}
	return value, nil
}

func (c *sqlCounter) Increment(ctx context.Context) (int64, error) {
	return withRetry(ctx, c.logger, c.backend, c.retry, func(ctx context.Context) (int64, error) {
		var value int64
		if err := c.db.QueryRowContext(ctx, c.dialect.increment, CounterKey).Scan(&value); err != nil {
			return 0, newStoreError(c.backend, "increment", err)
		}
		return value, nil
	})
}

func (c *sqlCounter) Reset(ctx context.Context) error {
	_, err := withRetry(ctx, c.logger, c.backend, c.retry, func(ctx context.Context) (struct{}, error) {
		if _, err := c.db.ExecContext(ctx, c.dialect.reset, CounterKey); err != nil {
			return struct{}{}, newStoreError(c.backend, "reset", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *sqlCounter) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
