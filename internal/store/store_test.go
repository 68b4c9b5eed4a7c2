package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lawsker/lawsker/internal/config"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// exerciseCounter runs the common Counter contract against any backend.
func exerciseCounter(t *testing.T, c Counter) {
	t.Helper()
	ctx := context.Background()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "fresh counter starts at zero")

	for want := int64(1); want <= 3; want++ {
		got, err := c.Increment(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, c.Reset(ctx))
	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := c.Increment(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "increment after reset restarts from one")
}

func TestMemoryCounter(t *testing.T) {
	exerciseCounter(t, NewMemoryCounter())
}

func TestMemoryCounterFailWith(t *testing.T) {
	c := NewMemoryCounter()
	boom := errors.New("boom")
	c.FailWith(boom)

	_, err := c.Increment(context.Background())
	assert.ErrorIs(t, err, boom)

	c.FailWith(nil)
	n, err := c.Increment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	c, err := NewSQLiteCounter(path, fastRetry(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	exerciseCounter(t, c)
}

func TestSQLiteCounterSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	c, err := NewSQLiteCounter(path, fastRetry(), nil)
	require.NoError(t, err)
	_, err = c.Increment(context.Background())
	require.NoError(t, err)
	_, err = c.Increment(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = NewSQLiteCounter(path, fastRetry(), nil)
	require.NoError(t, err)
	defer c.Close()

	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLiteCounterConcurrentIncrements(t *testing.T) {
	c, err := NewSQLiteCounter(filepath.Join(t.TempDir(), "runs.db"), fastRetry(), nil)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Increment(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

func TestSQLiteCounterRequiresPath(t *testing.T) {
	_, err := NewSQLiteCounter("", fastRetry(), nil)
	assert.Error(t, err)
}

func TestPostgresCounter(t *testing.T) {
	dsn := os.Getenv("LAWSKER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LAWSKER_TEST_POSTGRES_DSN not set")
	}

	c, err := NewPostgresCounter(dsn, fastRetry(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Reset(context.Background()))
	n, err := c.Increment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpenSelectsBackend(t *testing.T) {
	c, err := Open(config.StoreConfig{Driver: config.StoreMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCounter{}, c)

	c, err = Open(config.StoreConfig{Driver: config.StoreSQLite, DSN: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Close())

	_, err = Open(config.StoreConfig{Driver: "redis"}, nil)
	assert.Error(t, err)
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := withRetry(context.Background(), zap.NewNop(), "test", fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, newStoreError("sqlite", "increment", errors.New("database is locked (5) (SQLITE_BUSY)"))
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), zap.NewNop(), "test", fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, newStoreError("sqlite", "increment", errors.New("no such table: counters"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), zap.NewNop(), "test", fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, newStoreError("postgres", "increment", errors.New("dial tcp: connection refused"))
	})

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.False(t, storeErr.Retryable, "exhausted errors are marked non-retryable")
	assert.Equal(t, 4, calls)
}

func TestWithRetryHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := withRetry(ctx, zap.NewNop(), "test", fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("pq: duplicate key value"), false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestStoreErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := newStoreError("sqlite", "count", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "store sqlite: count failed")
}
