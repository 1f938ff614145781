package cacheutil

import (
	"sync"
	"time"
)

// CachedValue represents a cached value with expiration timestamp.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// TTLCache is a small string-keyed cache whose entries expire after a fixed TTL.
// When full, expired entries are swept and then the oldest entry is dropped.
type TTLCache[T any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	max     int
	entries map[string]CachedValue[T]
	now     func() time.Time
}

// NewTTLCache creates a cache. A non-positive ttl disables caching.
func NewTTLCache[T any](ttl time.Duration, max int) *TTLCache[T] {
	if max <= 0 {
		max = 1024
	}
	return &TTLCache[T]{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]CachedValue[T]),
		now:     time.Now,
	}
}

// Get returns the cached value if present and fresh.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	if c.ttl <= 0 {
		return zero, false
	}
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || now.Sub(entry.FetchedAt) >= c.ttl {
		return zero, false
	}
	return entry.Value, true
}

// Set stores value under key.
func (c *TTLCache[T]) Set(key string, value T) {
	if c.ttl <= 0 {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[key] = CachedValue[T]{Value: value, FetchedAt: now}
}

// Invalidate drops key from the cache.
func (c *TTLCache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (c *TTLCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TTLCache[T]) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, v := range c.entries {
		if now.Sub(v.FetchedAt) >= c.ttl {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || v.FetchedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, v.FetchedAt
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
