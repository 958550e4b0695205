package http

import (
	"context"
	"sync"
	"time"
)

// stubStore is an in-memory Store with fault injection for middleware tests.
type stubStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	ttls     map[string]time.Duration
	getErr   error
	setErr   error
	getCalls int
	setCalls int
}

func newStubStore() *stubStore {
	return &stubStore{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (s *stubStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *stubStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	s.ttls[key] = ttl
	return nil
}

func (s *stubStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *stubStore) sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

// pingStore adds a Ping method so health checks can exercise both outcomes.
type pingStore struct {
	*stubStore
	pingErr error
}

func (s *pingStore) Ping(ctx context.Context) error {
	return s.pingErr
}
