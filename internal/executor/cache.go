package executor

import (
	"time"
)

// cacheEntry is one cached step outcome: the variables it extracted and
// when that becomes stale.
type cacheEntry struct {
	vars      map[string]string
	expiresAt time.Time
}

// Cache is a per-worker, per-step-name cache that survives across
// scenario executions on the same worker. Not safe for concurrent access
// from more than one goroutine — a worker owns exactly one Cache, mirroring
// the VU context's single-owner model.
type Cache struct {
	entries map[string]cacheEntry
}

// NewCache constructs an empty step-result cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached variables for stepName if present and not
// expired.
func (c *Cache) Get(stepName string) (map[string]string, bool) {
	e, ok := c.entries[stepName]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, stepName)
		return nil, false
	}
	return e.vars, true
}

// Put stores vars for stepName with the given TTL.
func (c *Cache) Put(stepName string, vars map[string]string, ttl time.Duration) {
	c.entries[stepName] = cacheEntry{vars: vars, expiresAt: time.Now().Add(ttl)}
}
