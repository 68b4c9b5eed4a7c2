package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var sqliteDialect = sqlDialect{
	create: `CREATE TABLE IF NOT EXISTS counters (
		name       TEXT PRIMARY KEY,
		value      INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	count: `SELECT value FROM counters WHERE name = ?`,
	increment: `INSERT INTO counters (name, value, updated_at) VALUES (?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = counters.value + 1, updated_at = CURRENT_TIMESTAMP
		RETURNING value`,
	reset: `UPDATE counters SET value = 0, updated_at = CURRENT_TIMESTAMP WHERE name = ?`,
}

// NewSQLiteCounter opens (creating if needed) a sqlite database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteCounter(path string, retry RetryConfig, logger *zap.Logger) (Counter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite store: database path is required")
	}

	dsn := path
	if path != ":memory:" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newStoreError("sqlite", "open", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, newStoreError("sqlite", "open", err)
	}

	c := &sqlCounter{
		backend: "sqlite",
		db:      db,
		dialect: sqliteDialect,
		retry:   retry,
		logger:  logger.Named("store"),
	}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("sqlite counter ready", zap.String("path", path))
	return c, nil
}
