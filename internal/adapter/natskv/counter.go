package natskv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/turnforge/internal/port/counter"
)

// ErrContention is returned when an increment loses the compare-and-swap race
// more than maxCASAttempts times in a row.
var ErrContention = errors.New("natskv: counter contention")

const maxCASAttempts = 64

// Counter implements counter.Counter with compare-and-swap updates on a
// JetStream KV bucket. Every increment writes a new revision, so the bucket's
// MaxAge acts as an expiry refreshed on each use.
type Counter struct {
	kv jetstream.KeyValue
}

var _ counter.Counter = (*Counter)(nil)

// NewCounter creates a counter on kv. The bucket should be created with the
// desired key expiry as its TTL.
func NewCounter(kv jetstream.KeyValue) *Counter {
	return &Counter{kv: kv}
}

// Increment sets key to max(current, floor)+1. The ttl argument documents the
// caller's intent; expiry is enforced by the bucket TTL.
func (c *Counter) Increment(ctx context.Context, key string, _ time.Duration, floor int64, seed counter.SeedFunc) (int64, error) {
	k := kvKey(key)
	for range maxCASAttempts {
		entry, err := c.kv.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			next, created, err := c.create(ctx, k, floor, seed)
			if err != nil {
				return 0, err
			}
			if created {
				return next, nil
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("natskv get %s: %w", k, err)
		}

		cur, err := strconv.ParseInt(string(entry.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("natskv counter %s holds %q: %w", k, entry.Value(), err)
		}
		next := max(cur, floor) + 1
		if _, err := c.kv.Update(ctx, k, encode(next), entry.Revision()); err != nil {
			if isWrongRevision(err) {
				continue
			}
			return 0, fmt.Errorf("natskv update %s: %w", k, err)
		}
		return next, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrContention, k)
}

// create initializes a missing key at max(seed(), floor)+1. created is false
// when another writer created the key first.
func (c *Counter) create(ctx context.Context, k string, floor int64, seed counter.SeedFunc) (next int64, created bool, err error) {
	var start int64
	if seed != nil {
		start, err = seed(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("natskv seed %s: %w", k, err)
		}
	}
	next = max(start, floor) + 1
	if _, err := c.kv.Create(ctx, k, encode(next)); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("natskv create %s: %w", k, err)
	}
	return next, true, nil
}

func encode(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
