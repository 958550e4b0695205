// Package memory provides the in-memory implementation of the outbound
// store port. Thread-safe for concurrent access. For development and
// single-process deployments; distributed deployments should use the Redis
// or SQLite adapters.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flux-gate/fluxgate/internal/port/outbound"
)

// DefaultCleanupInterval is how often the background sweep removes expired
// entries. Expired entries are also dropped lazily on read.
const DefaultCleanupInterval = 1 * time.Minute

// entry is one stored value with its expiry instant.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// KVStore implements outbound.Store with an in-memory map.
// A background cleanup goroutine bounds memory growth for abandoned keys;
// call StartCleanup once and Stop on shutdown.
type KVStore struct {
	mu              sync.RWMutex
	entries         map[string]entry
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once // Prevent double-close panic on Stop()
	cleanupInterval time.Duration
}

// NewKVStore creates an in-memory store with the default cleanup interval.
func NewKVStore() *KVStore {
	return NewKVStoreWithConfig(DefaultCleanupInterval)
}

// NewKVStoreWithConfig creates an in-memory store with a custom cleanup interval.
func NewKVStoreWithConfig(cleanupInterval time.Duration) *KVStore {
	return &KVStore{
		entries:         make(map[string]entry),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// Get returns the value for key, treating expired entries as absent.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; another writer may have replaced it.
		if cur, ok := s.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given ttl.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCleanupInterval
	}
	// Copy so later caller mutations cannot reach the stored value.
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	s.entries[key] = entry{value: buf, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *KVStore) Ping(ctx context.Context) error {
	return nil
}

// StartCleanup starts the background cleanup goroutine. It stops when ctx
// is cancelled or Stop is called.
func (s *KVStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes all expired entries.
func (s *KVStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("kv store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(s.entries))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *KVStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the current number of stored keys, expired or not.
// Useful for testing and monitoring memory usage.
func (s *KVStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Compile-time interface verification.
var _ outbound.Store = (*KVStore)(nil)
var _ outbound.Pinger = (*KVStore)(nil)
