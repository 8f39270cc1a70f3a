package resolver

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
)

// CacheEntry is a last-known-good price captured from a live resolution.
type CacheEntry struct {
	Amount     decimal.Decimal
	Source     string
	RecordedAt time.Time
}

// Cache holds the most recent successfully resolved price per asset. It
// is owned by a single Resolver and refreshed on every live hit; reads
// happen only when all live tiers were exhausted in a cycle.
type Cache struct {
	mu      sync.RWMutex
	entries map[domain.Asset]CacheEntry
}

// NewCache constructs an empty last-known-good cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[domain.Asset]CacheEntry)}
}

// Put records a live resolution for an asset.
func (c *Cache) Put(asset domain.Asset, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[asset] = entry
}

// Get returns the cached entry for an asset, if any.
func (c *Cache) Get(asset domain.Asset) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[asset]
	return entry, ok
}

// Len reports the number of cached assets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
