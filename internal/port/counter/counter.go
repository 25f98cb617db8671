// Package counter defines the port for the shared atomic counter service.
package counter

import (
	"context"
	"time"
)

// SeedFunc returns the value a missing key starts from.
type SeedFunc func(ctx context.Context) (int64, error)

// Counter atomically increments string-keyed integers.
type Counter interface {
	// Increment adds one to key and returns the new value. Concurrent callers
	// always observe distinct values. The key's expiry is refreshed to ttl on
	// every increment. When the key does not exist, seed supplies the starting
	// value (nil seed means 0). A stored or seeded value below floor is raised
	// to floor before the increment, so the result is always above floor.
	Increment(ctx context.Context, key string, ttl time.Duration, floor int64, seed SeedFunc) (int64, error)
}
