// Package simcache memoizes pairwise similarity scores between documents.
//
// Entries are only ever dropped through Invalidate or Reset; there is no
// size-based eviction. Growth is bounded by the number of distinct pairs queried.
package simcache

import (
	"sync"
	"sync/atomic"
)

type pairKey struct {
	lo, hi string
}

func keyOf(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Cache maps unordered document id pairs to similarity scores. It is safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	scores   map[pairKey]float64
	partners map[string]map[string]struct{}
	hits     atomic.Int64
	misses   atomic.Int64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		scores:   make(map[pairKey]float64),
		partners: make(map[string]map[string]struct{}),
	}
}

// Get returns the cached score for the pair (a, b) in either order.
func (c *Cache) Get(a, b string) (float64, bool) {
	c.mu.RLock()
	score, ok := c.scores[keyOf(a, b)]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return score, ok
}

// Set stores the score for the pair (a, b).
func (c *Cache) Set(a, b string, score float64) {
	k := keyOf(a, b)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scores[k] = score
	c.link(k.lo, k.hi)
	c.link(k.hi, k.lo)
}

func (c *Cache) link(id, partner string) {
	m := c.partners[id]
	if m == nil {
		m = make(map[string]struct{})
		c.partners[id] = m
	}
	m[partner] = struct{}{}
}

// Invalidate drops every entry that has id as an endpoint and returns how many were dropped.
func (c *Cache) Invalidate(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for partner := range c.partners[id] {
		delete(c.scores, keyOf(id, partner))
		n++
		if pm := c.partners[partner]; pm != nil {
			delete(pm, id)
			if len(pm) == 0 {
				delete(c.partners, partner)
			}
		}
	}
	delete(c.partners, id)
	return n
}

// References reports whether any entry has id as an endpoint.
func (c *Cache) References(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.partners[id]) > 0
}

// Reset drops every entry and zeroes the hit and miss counters.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.scores = make(map[pairKey]float64)
	c.partners = make(map[string]map[string]struct{})
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
}

// Len returns the number of cached pairs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scores)
}

// Stats returns the hit and miss counts since creation or the last Reset.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
