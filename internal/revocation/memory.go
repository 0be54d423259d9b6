package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process Store. Entries are dropped by Sweep once
// their expiry has passed.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock replaces the clock used by Sweep.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Track(_ context.Context, key string, expiresAt time.Time) error {
	s.mu.Lock()
	s.entries[key] = expiresAt
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Active(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.entries[key]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) Revoke(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep deletes expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done. A non-positive interval disables sweeping.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
