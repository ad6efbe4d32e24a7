package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 75.0, stats.HitRate, 0.001)
}

func TestLRUCache_Update(t *testing.T) {
	c := NewLRUCache(2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestLRUCache_TTL(t *testing.T) {
	c := NewLRUCache(4, 20*time.Millisecond)
	c.Set("a", 1)

	_, ok := c.Get("a")
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "a expired")
	assert.Equal(t, int64(1), c.GetStats().Misses)
}

func TestLRUCache_MinimumSize(t *testing.T) {
	c := NewLRUCache(0, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	stats := c.GetStats()
	assert.Equal(t, 1, stats.MaxSize)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestLRUCache_InvalidateAndClear(t *testing.T) {
	c := NewLRUCache(4, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
	stats := c.GetStats()
	assert.Zero(t, stats.Size)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 4, stats.MaxSize)
}
