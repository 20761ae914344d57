package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded map for single-instance deployments.
// Entries live until swept.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	return w, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, w Window, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[key] = w
	return nil
}

func (s *MemoryStore) Update(_ context.Context, key string, _ time.Duration, fn UpdateFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.windows[key]
	next, write := fn(cur, ok)
	if write {
		s.windows[key] = next
	}
	return write, nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, w := range s.windows {
		if w.Start.Before(cutoff) {
			delete(s.windows, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
