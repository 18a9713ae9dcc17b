package route

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
)

// Cache is a tiny in-memory cache for route snapshots keyed by coord pair.
// It keeps repeated viewers of the same booking from hammering the providers
// inside one recompute interval.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  models.RouteSnapshot
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Get returns the cached snapshot and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (models.RouteSnapshot, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return models.RouteSnapshot{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return models.RouteSnapshot{}, false
	}
	return e.v, true
}

// Set stores a snapshot in the cache.
func (c *Cache) Set(a, b models.Coord, v models.RouteSnapshot) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
