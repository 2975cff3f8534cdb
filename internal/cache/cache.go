// Package cache holds probe results for a fixed freshness window.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long a probe result is served without re-probing.
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Stats are cumulative lookup counters.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Expired uint64 `json:"expired"`
}

// Cache is a process-wide map with lazy expiry. An entry whose age is at or
// beyond the TTL is treated as absent and removed on the lookup that sees it.
// There is no size bound and no background sweep.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	m     map[K]entry[V]
	stats Stats
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New[K comparable, V any](ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[K, V]{ttl: ttl, now: o.now, m: make(map[K]entry[V])}
}

func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[k]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.m, k)
		c.stats.Misses++
		c.stats.Expired++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

func (c *Cache[K, V]) Put(k K, v V) {
	c.mu.Lock()
	c.m[k] = entry[V]{value: v, insertedAt: c.now()}
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet looked up.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache[K, V]) TTL() time.Duration { return c.ttl }
