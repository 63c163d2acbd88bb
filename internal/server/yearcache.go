package server

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/densimap/internal/choropleth"
	"github.com/sells-group/densimap/internal/geo"
	"github.com/sells-group/densimap/internal/lod"
)

// yearCache is a concurrent-safe LRU over decoded year collections with TTL
// expiration. Each entry carries its own zoom filter so the filter's sorted
// snapshot stays pinned to that collection for the entry's whole lifetime.
type yearCache struct {
	mu         sync.RWMutex
	entries    map[string]*yearEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	bands      []lod.Band
	hits       atomic.Int64
	misses     atomic.Int64
}

// yearEntry is one decoded dataset year.
type yearEntry struct {
	collection *geo.Collection
	filter     *lod.Filter
	legend     *choropleth.Legend
	createdAt  time.Time
}

// CacheStats contains cache performance statistics for the health endpoint.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// newYearCache creates a cache with the given capacity and TTL. Entries built
// by Put use bands for their zoom filter.
func newYearCache(maxEntries int, ttl time.Duration, bands []lod.Band) *yearCache {
	return &yearCache{
		entries:    make(map[string]*yearEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		bands:      bands,
	}
}

// yearKey builds the cache key for a dataset year.
func yearKey(datasetID, year string) string {
	return datasetID + "/" + year
}

// Get retrieves a decoded year. Returns nil on miss or expiration.
func (c *yearCache) Get(datasetID, year string) *yearEntry {
	key := yearKey(datasetID, year)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}

	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil
	}

	// Move to back (most recently used).
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry
}

// Put stores a decoded year and returns its entry, evicting the oldest entry
// if at capacity.
func (c *yearCache) Put(datasetID, year string, col *geo.Collection, legend *choropleth.Legend) *yearEntry {
	key := yearKey(datasetID, year)
	entry := &yearEntry{
		collection: col,
		filter:     lod.New(c.bands),
		legend:     legend,
		createdAt:  time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// If key already exists, update in place and move to back.
	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return entry
	}

	// Evict from front if at capacity.
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
	return entry
}

// Invalidate removes every cached year of a dataset.
func (c *yearCache) Invalidate(datasetID string) {
	prefix := datasetID + "/"

	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining []string
	for _, key := range c.order {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		} else {
			remaining = append(remaining, key)
		}
	}
	c.order = remaining
}

// Stats returns cache performance statistics.
func (c *yearCache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

// removeFromOrder removes a key from the LRU order slice.
func (c *yearCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
