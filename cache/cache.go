// Package cache implements the repository facade's bounded, TTL-expiring
// inventory cache (spec.md §4.8 design notes: "the inventory cache is
// shared across threads; reads take the object's read lock, writes
// (put/invalidate) are atomic map operations"). A successful load avoids
// re-parsing and re-validating inventory.json on every facade call that
// touches an already-open object.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ocflcore/ocfl/inventory"
)

// Cache holds recently loaded inventories keyed by object id, evicting the
// least recently used entry once size is exceeded and expiring entries
// older than ttl regardless of use.
type Cache struct {
	lru *lru.LRU[string, *inventory.Inventory]
}

// New returns a Cache holding at most size entries, each valid for ttl. A
// zero ttl disables time-based expiry (size-based eviction still applies).
func New(size int, ttl time.Duration) *Cache {
	return &Cache{lru: lru.NewLRU[string, *inventory.Inventory](size, nil, ttl)}
}

// Get returns the cached inventory for id, and whether it was present
// (and not yet expired/evicted).
func (c *Cache) Get(id string) (*inventory.Inventory, bool) {
	return c.lru.Get(id)
}

// Put caches inv under id, replacing any existing entry.
func (c *Cache) Put(id string, inv *inventory.Inventory) {
	c.lru.Add(id, inv)
}

// Invalidate drops id's cached entry, if any. Called when the cached copy
// may be stale: after a purge, an import or a mutable HEAD change, and when
// a commit finds the object out of sync with its root inventory.
func (c *Cache) Invalidate(id string) {
	c.lru.Remove(id)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}
