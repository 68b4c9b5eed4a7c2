// Package cache keeps rendered site files in memory between requests.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Page is a cached site file.
type Page struct {
	Body        []byte
	ContentType string
	ModTime     time.Time
}

// Entry is a cached page and its expiry.
type Entry struct {
	Page      Page
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache stores pages by key (the resolved file name).
type Cache interface {
	Get(key string) (Page, bool)
	Set(key string, page Page, ttl time.Duration)
	Invalidate(key string)
	InvalidateAll()
}

// Stats counts lookups since the cache was created.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// MemoryCache is an in-memory cache with TTL support.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	// For background cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once // Ensures Stop() is idempotent
}

// NewMemoryCache creates a new in-memory cache and starts its cleanup loop.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries:         make(map[string]*Entry),
		now:             time.Now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the page stored under key if it has not expired.
func (c *MemoryCache) Get(key string) (Page, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.misses.Add(1)
		return Page{}, false
	}

	if entry.IsExpired(c.now()) {
		c.Invalidate(key)
		c.misses.Add(1)
		return Page{}, false
	}

	c.hits.Add(1)
	return entry.Page, true
}

// Set stores page under key. A non-positive ttl stores nothing.
func (c *MemoryCache) Set(key string, page Page, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry := &Entry{
		Page:      page,
		ExpiresAt: c.now().Add(ttl),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate removes an entry from the cache
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll removes all entries from the cache
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// Stats returns hit and miss counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// cleanupLoop periodically removes expired entries
func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, key)
		}
	}
}

// Stop stops the background cleanup goroutine
// Safe to call multiple times
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// Len returns the number of entries in the cache (for testing)
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
