package cache

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache is the in-process backend, used in tests and single-node
// deployments. Entries hold the same compressed payload as the Redis
// backend; expiry is checked lazily on Get.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	byTag   map[string]map[string]struct{} // dataset id -> keys

	hits          atomic.Int64
	misses        atomic.Int64
	puts          atomic.Int64
	invalidations atomic.Int64
}

type memoryEntry struct {
	payload   []byte
	datasetID string
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		byTag:   make(map[string]map[string]struct{}),
	}
}

// Get returns the cached page for key, or (nil, false) on miss or expiry.
func (c *MemoryCache) Get(ctx context.Context, key string) (*Page, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.misses.Add(1)
		return nil, false
	}
	page, err := decodePage(entry.payload)
	if err != nil {
		log.Printf("[WARN] cache: dropping undecodable entry %s: %v", key, err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return page, true
}

// Put stores a page under key with the given TTL. Encoding failures are
// logged and dropped; the cache never fails a request.
func (c *MemoryCache) Put(ctx context.Context, key string, page *Page, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := encodePage(page)
	if err != nil {
		log.Printf("[WARN] cache: failed to encode page for %s: %v", key, err)
		return
	}
	datasetID := datasetFromKey(key)

	c.mu.Lock()
	c.entries[key] = memoryEntry{payload: payload, datasetID: datasetID, expiresAt: time.Now().Add(ttl)}
	keys, ok := c.byTag[datasetID]
	if !ok {
		keys = make(map[string]struct{})
		c.byTag[datasetID] = keys
	}
	keys[key] = struct{}{}
	c.mu.Unlock()

	c.puts.Add(1)
}

// InvalidateDataset removes every entry tagged with the dataset.
func (c *MemoryCache) InvalidateDataset(ctx context.Context, datasetID string) error {
	c.mu.Lock()
	for key := range c.byTag[datasetID] {
		delete(c.entries, key)
	}
	delete(c.byTag, datasetID)
	c.mu.Unlock()

	c.invalidations.Add(1)
	return nil
}

// Close releases all entries.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.byTag = make(map[string]map[string]struct{})
	c.mu.Unlock()
	return nil
}

// Stats reports hit/miss/put/invalidation counters.
func (c *MemoryCache) Stats() (hits, misses, puts, invalidations int64) {
	return c.hits.Load(), c.misses.Load(), c.puts.Load(), c.invalidations.Load()
}

// datasetFromKey recovers the dataset tag from a "rows:<dataset>:<digest>" key.
func datasetFromKey(key string) string {
	rest := strings.TrimPrefix(key, "rows:")
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		return rest[:i]
	}
	return rest
}
