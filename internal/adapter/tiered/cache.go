// Package tiered layers an in-process cache over the shared NATS KV cache.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/turnforge/internal/port/cache"
)

// Cache reads L1 then L2 and writes L2 then L1. L2 is shared between
// replicas, so a response stored by one replica replays on all of them; L1
// only saves round trips. Entries live in L1 for at most l1Expire, which
// bounds how long a replica can serve a value deleted elsewhere.
//
// Either level failing alone degrades the cache instead of failing the call.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. An L2 hit is copied into L1.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err == nil && found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	if err := c.l1.Set(ctx, key, val, c.l1Expire); err != nil {
		slog.DebugContext(ctx, "l1 backfill skipped", "key", key, "error", err)
	}
	return val, true, nil
}

// Set writes both levels. It fails only when neither level accepted the value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l2Err := c.l2.Set(ctx, key, value, ttl)
	if l2Err != nil {
		slog.WarnContext(ctx, "l2 cache set failed", "key", key, "error", l2Err)
	}
	l1Err := c.l1.Set(ctx, key, value, c.l1TTL(ttl))
	if l1Err != nil && l2Err != nil {
		return errors.Join(l2Err, l1Err)
	}
	return nil
}

// Delete removes key from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l2.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "l2 cache delete failed", "key", key, "error", err)
	}
	return c.l1.Delete(ctx, key)
}

func (c *Cache) l1TTL(ttl time.Duration) time.Duration {
	if c.l1Expire > 0 && (ttl <= 0 || ttl > c.l1Expire) {
		return c.l1Expire
	}
	return ttl
}
