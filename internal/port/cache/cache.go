// Package cache defines the byte cache port used for rendered curve
// exports and idempotent submit responses.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores opaque values by key. Keys are dot-separated; remote
// backends may map other characters. A ttl of 0 means the backend default.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON loads and decodes key. A lookup error or an undecodable entry
// is reported as a miss along with the error.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var v T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}
