package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// InMemoryRulesCache is an in-memory RulesCache, safe for concurrent access
type InMemoryRulesCache struct {
	entries map[Category]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[Category]cacheEntry),
		config:  config,
	}
}

// Get returns a copy of the cached rules, or nil if absent or expired
func (c *InMemoryRulesCache) Get(category Category) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[category]
	if !ok || c.expired(entry) {
		return nil
	}

	rulesCopy := make([]*Rule, len(entry.rules))
	copy(rulesCopy, entry.rules)
	return rulesCopy
}

// Set stores a copy of the rules of a category
func (c *InMemoryRulesCache) Set(category Category, rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]*Rule, len(rules))
	copy(stored, rules)
	c.entries[category] = cacheEntry{rules: stored, cachedAt: time.Now()}
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Category]cacheEntry)
}

// IsValid returns true if the category holds unexpired data
func (c *InMemoryRulesCache) IsValid(category Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[category]
	return ok && !c.expired(entry)
}

func (c *InMemoryRulesCache) expired(entry cacheEntry) bool {
	return c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL
}
