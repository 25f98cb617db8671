// Package natskv implements the cache and counter ports on NATS JetStream KV.
package natskv

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache is the shared L2 cache. A bucket TTL bounds every entry; each value
// also carries its own deadline so callers can ask for shorter lifetimes.
type Cache struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// New creates a cache on kv.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Get returns the value for key. An expired entry is a miss.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, deadline, valid := unwrap(entry.Value())
	if !valid || (!deadline.IsZero() && !c.now().Before(deadline)) {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value until ttl elapses or the bucket TTL expires it, whichever
// comes first.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var deadline time.Time
	if ttl > 0 {
		deadline = c.now().Add(ttl)
	}
	_, err := c.kv.Put(ctx, kvKey(key), wrap(value, deadline))
	return err
}

// Delete removes a value. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Stored values are an 8-byte big-endian deadline in Unix nanoseconds
// (0 = none) followed by the value.
const headerLen = 8

func wrap(value []byte, deadline time.Time) []byte {
	out := make([]byte, headerLen+len(value))
	if !deadline.IsZero() {
		binary.BigEndian.PutUint64(out, uint64(deadline.UnixNano()))
	}
	copy(out[headerLen:], value)
	return out
}

func unwrap(stored []byte) (value []byte, deadline time.Time, ok bool) {
	if len(stored) < headerLen {
		return nil, time.Time{}, false
	}
	if ns := binary.BigEndian.Uint64(stored); ns != 0 {
		deadline = time.Unix(0, int64(ns))
	}
	return stored[headerLen:], deadline, true
}
