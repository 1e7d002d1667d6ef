package llm

import (
	"sync"
	"time"

	"github.com/Veraticus/bookkeeper/internal/model"
)

// cacheEntry is one remembered reply. A nil suggestion records an abstention.
type cacheEntry struct {
	expiry     time.Time
	suggestion *model.CategorySuggestion
}

// suggestionCache provides thread-safe caching for LLM suggestions keyed by transaction
// fingerprint. Failures are never cached.
type suggestionCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	ttl     time.Duration
	mu      sync.RWMutex
}

// newSuggestionCache creates a new cache with the specified TTL. A negative TTL disables
// caching.
func newSuggestionCache(ttl time.Duration) *suggestionCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &suggestionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// get retrieves a reply if it exists and hasn't expired.
func (c *suggestionCache) get(key string) (*model.CategorySuggestion, bool) {
	if c.ttl < 0 {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || c.now().After(entry.expiry) {
		return nil, false
	}
	return entry.suggestion, true
}

// set stores a reply and drops expired entries.
func (c *suggestionCache) set(key string, suggestion *model.CategorySuggestion) {
	if c.ttl < 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{suggestion: suggestion, expiry: now.Add(c.ttl)}
}

// size returns the number of entries in the cache.
func (c *suggestionCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
