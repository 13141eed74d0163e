// Package cache is the explicit get-or-compute cache used around the
// pricing provider and other derived-data producers. Callers invoke it
// directly; there is no implicit interception.
package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// Store is a TTL'd byte store. Implementations: in-process memory and Redis.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Stats counts cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// Cache wraps a Store with get-or-compute semantics and hit/miss counters.
type Cache struct {
	store Store
	ttl   time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

// New creates a cache over the given store with a default TTL.
func New(store Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// GetOrCompute returns the cached value for key, or computes, stores, and
// returns it. Store errors degrade to compute-only; the computed value is
// still returned.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, err := c.store.Get(ctx, key); err != nil {
		c.errors.Add(1)
	} else if ok {
		c.hits.Add(1)
		return v, nil
	} else {
		c.misses.Add(1)
	}

	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, v, c.ttl); err != nil {
		c.errors.Add(1)
	}
	return v, nil
}

// Invalidate removes one key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}
