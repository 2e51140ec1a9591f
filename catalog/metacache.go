package catalog

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// MetaCache loads component metadata lazily and keeps it. Concurrent loads
// of the same id share one call to the underlying source.
type MetaCache struct {
	source    ComponentSource
	group     singleflight.Group
	mu        sync.RWMutex
	entries   map[string]ComponentMeta
	overrides []EdgeOverride
	loaded    bool
}

// NewMetaCache wraps a component source
func NewMetaCache(source ComponentSource) *MetaCache {
	return &MetaCache{
		source:  source,
		entries: make(map[string]ComponentMeta),
	}
}

// Component returns cached metadata, loading it on first use
func (c *MetaCache) Component(ctx context.Context, id string) (ComponentMeta, error) {
	c.mu.RLock()
	meta, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return meta, nil
	}

	v, err, _ := c.group.Do("component:"+id, func() (any, error) {
		meta, err := c.source.Component(ctx, id)
		if err != nil {
			return ComponentMeta{}, err
		}
		c.mu.Lock()
		c.entries[id] = meta
		c.mu.Unlock()
		return meta, nil
	})
	if err != nil {
		return ComponentMeta{}, err
	}
	return v.(ComponentMeta), nil
}

// Components loads every listed id and returns them keyed by id
func (c *MetaCache) Components(ctx context.Context, ids []string) (map[string]ComponentMeta, error) {
	out := make(map[string]ComponentMeta, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		meta, err := c.Component(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load component %s: %w", id, err)
		}
		out[id] = meta
	}
	return out, nil
}

// EdgeOverrides returns the override table, loading it once
func (c *MetaCache) EdgeOverrides(ctx context.Context) ([]EdgeOverride, error) {
	c.mu.RLock()
	if c.loaded {
		out := c.overrides
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("overrides", func() (any, error) {
		overrides, err := c.source.EdgeOverrides(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.overrides = overrides
		c.loaded = true
		c.mu.Unlock()
		return overrides, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load edge overrides: %w", err)
	}
	return v.([]EdgeOverride), nil
}

// Len returns the number of cached components
func (c *MetaCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Invalidate drops every cached entry
func (c *MetaCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ComponentMeta)
	c.overrides = nil
	c.loaded = false
}
