package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/a1betting/propcore/internal/infra/metrics"
)

// Cache is an in-memory response cache keyed by canonical URL. Entries
// expire after their TTL; expiry is lazy on read plus a periodic sweep.
// Safe for concurrent readers and writers.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration
}

type cacheEntry struct {
	body      []byte
	fetchedAt time.Time
	expiresAt time.Time
}

// NewCache creates a cache with the given default TTL.
func NewCache(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]cacheEntry),
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached body and its fetch time, or ok=false when the
// entry is absent or expired.
func (c *Cache) Get(canonicalURL string) (body []byte, fetchedAt time.Time, ok bool) {
	c.mu.RLock()
	e, found := c.entries[canonicalURL]
	c.mu.RUnlock()

	if !found || time.Now().After(e.expiresAt) {
		if found {
			c.mu.Lock()
			// Re-check under the write lock; a concurrent Put may have
			// refreshed the entry.
			if cur, still := c.entries[canonicalURL]; still && time.Now().After(cur.expiresAt) {
				delete(c.entries, canonicalURL)
			}
			c.mu.Unlock()
		}
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, time.Time{}, false
	}
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return e.body, e.fetchedAt, true
}

// Put overwrites the entry. ttl <= 0 uses the default TTL.
func (c *Cache) Put(canonicalURL string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	c.mu.Lock()
	c.entries[canonicalURL] = cacheEntry{
		body:      body,
		fetchedAt: now,
		expiresAt: now.Add(ttl),
	}
	c.mu.Unlock()
}

// Len returns the number of live entries (expired ones may still count
// until the next sweep).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep runs the periodic eviction loop. Call in a goroutine.
func (c *Cache) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
