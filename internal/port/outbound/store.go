// Package outbound defines the outbound port interfaces for the shared
// key/value store that holds bucket state and cached idempotent responses.
package outbound

import (
	"context"
	"time"
)

// Store is the outbound port for the shared key/value store. Adapters
// implement this over different backends (in-memory, Redis, SQLite).
//
// Both middleware layers only ever read-then-write keys they computed
// themselves; implementations do not need scan or delete operations.
// Values are opaque byte slices; the store must return them unmodified.
type Store interface {
	// Get returns the value stored under key. The second return value is
	// false when the key is absent or has expired. An error indicates an
	// infrastructure failure, not a missing key.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. The entry expires and behaves as absent
	// after ttl. A ttl of zero or less means the backend default applies.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Pinger is an optional interface for stores that can report backend
// reachability. Used by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}
