// Package cache provides the compiled-query cache.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores values by key.
type Cache interface {
	// Get retrieves a value from the cache
	Get(key string) (any, bool)
	// Set stores a value in the cache
	Set(key string, value any)
	// Invalidate removes a specific key from the cache
	Invalidate(key string)
	// Clear removes all entries from the cache
	Clear()
	// GetStats returns cache statistics
	GetStats() Stats
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	Size      int
	MaxSize   int
	Evictions int64
	HitRate   float64
}

// LRUCache is an LRU cache whose entries expire after a fixed TTL. It is
// safe for concurrent use.
type LRUCache struct {
	lru     *lru.LRU[string, any]
	maxSize int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

var _ Cache = (*LRUCache)(nil)

// NewLRUCache creates a cache holding at most maxSize entries. A zero ttl
// keeps entries until evicted.
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache{
		lru:     lru.NewLRU[string, any](maxSize, nil, ttl),
		maxSize: maxSize,
	}
}

// Get retrieves a value from the cache
func (c *LRUCache) Get(key string) (any, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v, true
}

// Set stores a value in the cache, evicting the least recently used entry
// when full.
func (c *LRUCache) Set(key string, value any) {
	if c.lru.Add(key, value) {
		c.evictions.Add(1)
	}
}

// Invalidate removes a specific key from the cache
func (c *LRUCache) Invalidate(key string) {
	c.lru.Remove(key)
}

// Clear removes all entries and resets the statistics.
func (c *LRUCache) Clear() {
	c.lru.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// GetStats returns cache statistics
func (c *LRUCache) GetStats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}
