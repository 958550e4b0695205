// Package redis provides the Redis-backed implementation of the outbound
// store port. It is the production backend for multi-process deployments:
// bucket state and cached responses are shared across gateways through a
// single Redis instance or cluster.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flux-gate/fluxgate/internal/port/outbound"
)

// keyPrefix namespaces fluxgate keys so the gateway can share a Redis
// database with other applications.
const keyPrefix = "fluxgate:"

// Config holds connection settings for the Redis store.
type Config struct {
	// Addr is the Redis address, e.g. "localhost:6379".
	Addr string

	// Password authenticates the connection; empty means no auth.
	Password string

	// DB selects the Redis database number.
	DB int
}

// Store implements outbound.Store over a Redis client. Expiry is delegated
// to Redis SET EX; no cleanup goroutine is needed.
type Store struct {
	client *redis.Client
}

// NewStore creates a Redis-backed store. The connection is established
// lazily; use Ping to verify reachability at startup.
func NewStore(cfg Config) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Get returns the value for key, treating redis.Nil as an absent key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores value under key with the given ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks that the Redis backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Compile-time interface verification.
var _ outbound.Store = (*Store)(nil)
var _ outbound.Pinger = (*Store)(nil)
