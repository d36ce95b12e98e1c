package proposal

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// cacheKey identifies one (topic, current-subject-set) proposal request.
func cacheKey(topicID string, currentSubjectIDs []string) string {
	sorted := append([]string(nil), currentSubjectIDs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return topicID + "|" + hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	result     Result
	computedAt time.Time
}

// proposalCache is a bounded, TTL-expiring cache over ranked proposal
// results, grounded on the same computedAt/ttl shape used elsewhere in
// this code base for cached analysis results. It holds many keys rather
// than one, so eviction on overflow is FIFO by insertion order rather
// than the single global slot the simpler version uses.
type proposalCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]cacheEntry
	order   []string // insertion order, oldest first, for FIFO eviction
	hits    uint64
	misses  uint64
}

func newProposalCache(ttl time.Duration, max int) *proposalCache {
	return &proposalCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]cacheEntry),
	}
}

func (c *proposalCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.computedAt) > c.ttl {
		c.misses++
		return Result{}, false
	}
	c.hits++
	return e.result, true
}

// hitRate reports the running fraction of get calls that returned a live
// entry, for the admin stats() operation (§4.10). Zero before the first
// lookup, rather than NaN from a 0/0 division.
func (c *proposalCache) hitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *proposalCache) set(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{result: r, computedAt: time.Now()}
	for len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// invalidateAll drops every cached entry -- used when a user's
// ProposalConfig changes, since that changes every key's scoring.
func (c *proposalCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}
