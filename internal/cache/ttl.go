package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_marketplace/pkg/clock"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 1000

	// share of entries dropped when the cache is full
	trimFraction = 0.2
)

type Options struct {
	TTL        time.Duration
	MaxEntries int
	Clock      clock.Clock
}

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

// TTL is an in-memory cache whose entries expire a fixed time after they were stored.
// Expiry is checked on access only. When full, the oldest 20% of entries by store
// time are dropped before inserting; this approximates LRU by age, not recency.
type TTL[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock
}

func NewTTL[V any](opts Options) *TTL[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	return &TTL[V]{
		entries:    make(map[string]entry[V]),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		clock:      opts.Clock,
	}
}

// Get returns the value while it is fresh. A stale entry is evicted.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.fresh(e) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key. An optional ttl overrides the default for this entry only.
func (c *TTL[V]) Set(key string, value V, ttl ...time.Duration) {
	entryTTL := c.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		entryTTL = ttl[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.trim()
	}
	c.entries[key] = entry[V]{
		value:    value,
		storedAt: c.clock.Now(),
		ttl:      entryTTL,
	}
}

func (c *TTL[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateByPrefix removes every key starting with prefix and returns how many were removed.
func (c *TTL[V]) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len counts stored entries, including stale ones not yet evicted.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTL[V]) fresh(e entry[V]) bool {
	return c.clock.Now().Sub(e.storedAt) <= e.ttl
}

// trim must be called with c.mu held.
func (c *TTL[V]) trim() {
	n := int(float64(len(c.entries)) * trimFraction)
	if n < 1 {
		n = 1
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if a.storedAt.Equal(b.storedAt) {
			return keys[i] < keys[j]
		}
		return a.storedAt.Before(b.storedAt)
	})

	for _, key := range keys[:n] {
		delete(c.entries, key)
	}
}
