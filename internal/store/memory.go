package store

import (
	"context"
	"sync"
)

// MemoryCounter is a process-local Counter, used by tests and by
// `store.driver: memory`.
type MemoryCounter struct {
	mu    sync.Mutex
	value int64
	err   error
}

// NewMemoryCounter returns a counter starting at zero.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{}
}

func (c *MemoryCounter) Count(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return c.value, nil
}

func (c *MemoryCounter) Increment(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.value++
	return c.value, nil
}

func (c *MemoryCounter) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.value = 0
	return nil
}

func (c *MemoryCounter) Close() error { return nil }

// FailWith makes every subsequent call return err (nil restores normal behavior).
func (c *MemoryCounter) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}
