package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

var postgresDialect = sqlDialect{
	create: `CREATE TABLE IF NOT EXISTS counters (
		name       TEXT PRIMARY KEY,
		value      BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	count: `SELECT value FROM counters WHERE name = $1`,
	increment: `INSERT INTO counters (name, value, updated_at) VALUES ($1, 1, now())
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1, updated_at = now()
		RETURNING value`,
	reset: `UPDATE counters SET value = 0, updated_at = now() WHERE name = $1`,
}

// NewPostgresCounter connects to PostgreSQL. An empty dsn falls back to
// the DATABASE_URL environment variable.
func NewPostgresCounter(dsn string, retry RetryConfig, logger *zap.Logger) (Counter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: connection required (set store.dsn or DATABASE_URL)")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, newStoreError("postgres", "open", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, newStoreError("postgres", "open", err)
	}

	c := &sqlCounter{
		backend: "postgres",
		db:      db,
		dialect: postgresDialect,
		retry:   retry,
		logger:  logger.Named("store"),
	}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}
