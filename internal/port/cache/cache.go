// Package cache defines the byte cache that stores replayable responses.
package cache

import (
	"context"
	"time"
)

// Cache maps string keys to opaque values.
type Cache interface {
	// Get reports ok=false for a missing or expired key; err is reserved
	// for backend failures.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for at most ttl. A zero ttl leaves expiry to the backend.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
