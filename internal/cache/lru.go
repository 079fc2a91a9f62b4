// Package cache provides bounded in-memory caches for derived page renditions.
package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// entry pairs a value with the cost it was admitted at.
type entry[V any] struct {
	value V
	cost  int64
}

// LRU is a thread-safe least-recently-used cache bounded both by entry count
// and by aggregate cost. Inserting past either bound evicts the least recently
// used entries until both bounds hold again.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[K, entry[V]]
	maxCost   int64
	cost      int64
	evictions uint64
}

// NewLRU creates an LRU holding at most maxEntries entries and maxCost total cost.
func NewLRU[K comparable, V any](maxEntries int, maxCost int64) (*LRU[K, V], error) {
	if maxCost <= 0 {
		return nil, fmt.Errorf("max cost must be positive, got %d", maxCost)
	}

	c := &LRU[K, V]{maxCost: maxCost}
	inner, err := simplelru.NewLRU[K, entry[V]](maxEntries, func(_ K, e entry[V]) {
		// Every removal path (eviction, Remove, Purge, replacement) releases its cost here.
		c.cost -= e.cost
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = inner
	return c, nil
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	return e.value, ok
}

// Contains reports whether key is cached without touching its recency.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Put stores value under key with the given cost. A value whose cost alone
// exceeds the cost bound is not admitted and Put reports false; any previous
// value for key is dropped in that case too.
func (c *LRU[K, V]) Put(key K, value V, cost int64) bool {
	if cost < 0 {
		cost = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)
	if cost > c.maxCost {
		return false
	}

	if c.lru.Add(key, entry[V]{value: value, cost: cost}) {
		c.evictions++
	}
	c.cost += cost

	for c.cost > c.maxCost {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		c.evictions++
	}
	return true
}

// Remove drops key. Reports whether it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Purge drops every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Cost returns the aggregate cost of cached entries.
func (c *LRU[K, V]) Cost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cost
}

// Keys returns cached keys from oldest to newest.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Evictions returns how many entries were evicted to honour the bounds.
func (c *LRU[K, V]) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
