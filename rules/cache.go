package rules

import "time"

// RulesCache caches the ordered active rule list of each category so that
// evaluation does not hit the store on every resolution
type RulesCache interface {
	// Get retrieves cached rules for a category, returns nil on miss or expiry
	Get(category Category) []*Rule

	// Set stores the rules of a category
	Set(category Category, rules []*Rule)

	// Invalidate clears every category, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if the category has valid cached data
	IsValid(category Category) bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the default rule cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // invalidated on mutations only
	}
}
