package resolve

import (
	"sync"

	"element-indexer/internal/entity"
)

// Cache stores the last-known selectors and outcome per (fingerprint,
// handle). Entries are only ever written by the resolver and only ever
// read under the fingerprint they were written for; invalidation drops
// whole partitions, there is no per-entry expiry.
type Cache struct {
	mu      sync.RWMutex
	entries map[entity.PageFingerprint]map[int]entity.CacheEntry
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[entity.PageFingerprint]map[int]entity.CacheEntry),
	}
}

func (c *Cache) Get(fingerprint entity.PageFingerprint, handle int) (entity.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	partition, ok := c.entries[fingerprint]
	if !ok {
		return entity.CacheEntry{}, false
	}

	entry, ok := partition[handle]

	return entry, ok
}

func (c *Cache) Put(entry entity.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	partition, ok := c.entries[entry.Fingerprint]
	if !ok {
		partition = make(map[int]entity.CacheEntry)
		c.entries[entry.Fingerprint] = partition
	}

	partition[entry.Handle] = entry
}

// Invalidate drops every entry written under the given fingerprint.
func (c *Cache) Invalidate(fingerprint entity.PageFingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, fingerprint)
}

// InvalidateAll empties the cache; the next resolve starts from the
// generation's own selector lists.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[entity.PageFingerprint]map[int]entity.CacheEntry)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, partition := range c.entries {
		total += len(partition)
	}

	return total
}
