// Package ristretto implements the cache port using dgraph-io/ristretto as
// the in-process L1 cache for rendered curve exports.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache as an in-process L1 cache.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Ratio   float64 `json:"ratio"`
	Evicted uint64  `json:"evicted"`
}

// New creates a ristretto-backed cache bounded to maxSizeMB megabytes of
// cached values.
func New(maxSizeMB int64) (*Cache, error) {
	maxCost := maxSizeMB << 20
	if maxCost <= 0 {
		return nil, fmt.Errorf("ristretto: max size must be > 0, got %d MB", maxSizeMB)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost / 1024 * 10, // exports average around 1 KiB
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: new cache: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value with the given TTL (0 = no expiry). Writes are applied
// before Set returns so an immediate Get observes them.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Stats returns hit/miss counters since creation.
func (c *Cache) Stats() Stats {
	m := c.c.Metrics
	return Stats{
		Hits:    m.Hits(),
		Misses:  m.Misses(),
		Ratio:   m.Ratio(),
		Evicted: m.KeysEvicted(),
	}
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
