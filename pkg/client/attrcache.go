package client

import (
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"
)

// DefaultCacheBatchSize is how many entries one shrink pass removes.
const DefaultCacheBatchSize = 50

type cacheEntry struct {
	stat      fuse.Stat_t
	createdAt time.Time
}

// AttrCache is a bounded, age-limited map from absolute client path to the
// most recent stat result for it. It keeps the getattr storms triggered by
// directory listings off the wire.
//
// Lookups never return an entry older than maxAge; such entries are evicted
// on sight. When an insert finds the cache full, a shrink pass first drops
// everything over age and then, if that freed fewer than batchSize slots,
// arbitrary scanned entries until the quota is met.
type AttrCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	maxCount  int
	maxAge    time.Duration
	batchSize int

	now func() time.Time
}

// NewAttrCache creates a cache bounded to maxCount entries of at most
// maxAge. A maxCount of zero disables caching entirely.
func NewAttrCache(maxCount int, maxAge time.Duration) *AttrCache {
	return &AttrCache{
		entries:   make(map[string]cacheEntry),
		maxCount:  maxCount,
		maxAge:    maxAge,
		batchSize: DefaultCacheBatchSize,
		now:       time.Now,
	}
}

// CopyStat copies the cached stat snapshot for path into st and reports
// whether a live entry was found. An over-age entry is evicted and reported
// as a miss.
func (c *AttrCache) CopyStat(path string, st *fuse.Stat_t) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, have := c.entries[path]
	if !have {
		return false
	}
	if c.now().Sub(entry.createdAt) > c.maxAge {
		delete(c.entries, path)
		return false
	}
	*st = entry.stat
	return true
}

// Set stores a copy of st for path, replacing any previous entry.
func (c *AttrCache) Set(path string, st *fuse.Stat_t) {
	if c.maxCount == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, have := c.entries[path]; !have && len(c.entries) >= c.maxCount {
		c.shrink()
	}
	c.entries[path] = cacheEntry{stat: *st, createdAt: c.now()}
}

// Remove drops the entry for path, if any. Every operation that may change
// filesystem state for a path calls this on success.
func (c *AttrCache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
}

// Len returns the current entry count.
func (c *AttrCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// shrink removes all over-age entries, then arbitrary entries until at
// least batchSize slots were freed. Iteration order of the map makes the
// fallback non-FIFO, which is acceptable here. Caller holds the lock.
func (c *AttrCache) shrink() {
	removed := 0
	now := c.now()
	for path, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.maxAge {
			delete(c.entries, path)
			removed++
		}
	}
	for path := range c.entries {
		if removed >= c.batchSize {
			break
		}
		delete(c.entries, path)
		removed++
	}
}
