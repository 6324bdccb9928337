package throttle

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	hits    int
	expires time.Time
}

// MemoryStore keeps windows in process memory. Expired windows are swept on
// Increment, at most once per window length.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]counter
	sweepAt time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]counter),
		now:     time.Now,
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !now.Before(s.sweepAt) {
		for k, c := range s.windows {
			if !now.Before(c.expires) {
				delete(s.windows, k)
			}
		}
		s.sweepAt = now.Add(window)
	}

	c := s.windows[key]
	if !now.Before(c.expires) {
		c = counter{expires: now.Add(window)}
	}
	c.hits++
	s.windows[key] = c
	return c.hits, nil
}

// Len reports the number of live windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]counter)
	return nil
}
