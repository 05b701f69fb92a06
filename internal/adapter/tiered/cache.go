// Package tiered layers the in-process export cache over the shared
// NATS KV bucket.
package tiered

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/port/cache"
)

// Stats counts lookups by the level that answered them.
type Stats struct {
	L1Hits uint64 `json:"l1_hits"`
	L2Hits uint64 `json:"l2_hits"`
	Misses uint64 `json:"misses"`
}

// Cache reads L1 then L2, backfilling L1 on an L2 hit. Writes go to both.
// L2 failures are logged and never reach the caller, so losing NATS only
// costs replicas their shared exports.
type Cache struct {
	l1    cache.Cache
	l2    cache.Cache
	l1TTL time.Duration // upper bound for entries held in L1

	l1Hits, l2Hits, misses atomic.Uint64
}

// New creates a tiered cache. l1TTL caps how long any entry stays in L1.
func New(l1, l2 cache.Cache, l1TTL time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		c.l1Hits.Add(1)
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("l2 cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false, nil
	}
	if !found {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.l2Hits.Add(1)
	if err := c.l1.Set(ctx, key, val, c.l1TTL); err != nil {
		slog.Debug("l1 backfill failed", "key", key, "error", err)
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.clamp(ttl)); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("l2 cache set failed", "key", key, "error", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.l2.Delete(ctx, key); err != nil {
		slog.Warn("l2 cache delete failed", "key", key, "error", err)
	}
	return nil
}

// Stats returns the lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{L1Hits: c.l1Hits.Load(), L2Hits: c.l2Hits.Load(), Misses: c.misses.Load()}
}

func (c *Cache) clamp(ttl time.Duration) time.Duration {
	if c.l1TTL > 0 && (ttl <= 0 || ttl > c.l1TTL) {
		return c.l1TTL
	}
	return ttl
}
