package ratelimit

import (
	"context"
	"sync"
)

// MemoryStore is the single-process counter backend. Counters for old
// windows are dropped lazily the next time a subject is touched.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

type windowCounter struct {
	windowID int64
	count    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*windowCounter)}
}

func (s *MemoryStore) Incr(_ context.Context, subject string, windowID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[subject]
	if !ok || c.windowID != windowID {
		c = &windowCounter{windowID: windowID}
		s.counters[subject] = c
	}
	c.count++
	return c.count, nil
}
