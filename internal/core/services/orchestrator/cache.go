package orchestrator

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

type cacheEntry struct {
	records  []domain.RawRecord
	storedAt time.Time
}

// resultCache holds discovery results per (source, options) pair for a
// bounded TTL. Eviction is oldest-first on insertion order, not
// LRU-precise. Stale-but-valid reads under concurrency are acceptable.
type resultCache struct {
	mu      sync.RWMutex
	clock   clock.Clock
	ttl     time.Duration
	maxSize int
	entries map[string]cacheEntry
	order   []string // insertion order for oldest-first eviction
}

func newResultCache(clk clock.Clock, ttl time.Duration, maxSize int) *resultCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &resultCache{
		clock:   clk,
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]cacheEntry),
	}
}

func (c *resultCache) get(key string) ([]domain.RawRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.clock.Now().Sub(e.storedAt) > c.ttl {
		return nil, false
	}
	return e.records, true
}

func (c *resultCache) put(key string, records []domain.RawRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{records: records, storedAt: c.clock.Now()}

	for len(c.entries) > c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// cacheKey derives a stable key from a source name and the discovery
// options. Options marshal deterministically (struct field order).
func cacheKey(source string, opts domain.DiscoveryOptions) string {
	raw, _ := json.Marshal(opts)
	sum := sha1.Sum(raw)
	return source + "|" + hex.EncodeToString(sum[:])
}
