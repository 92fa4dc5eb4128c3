package quote

import (
	"context"
	"sync"
	"time"

	"price-alerts/internal/clock"
)

// MemoryStore keeps the quote in process memory.
type MemoryStore struct {
	clock clock.Clock

	mu        sync.RWMutex
	current   Quote
	expiresAt time.Time
	present   bool
}

// NewMemoryStore builds an empty store. A nil clock uses the system clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{clock: c}
}

// Put replaces the stored quote.
func (s *MemoryStore) Put(_ context.Context, q Quote, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	expiry := s.clock.Now().Add(ttl)

	s.mu.Lock()
	s.current = q
	s.expiresAt = expiry
	s.present = true
	s.mu.Unlock()
	return nil
}

// Get returns the quote while now is before its deadline.
func (s *MemoryStore) Get(_ context.Context) (Quote, bool, error) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.present || !now.Before(s.expiresAt) {
		return Quote{}, false, nil
	}
	return s.current, true, nil
}

// Invalidate drops the quote.
func (s *MemoryStore) Invalidate(_ context.Context) error {
	s.mu.Lock()
	s.current = Quote{}
	s.expiresAt = time.Time{}
	s.present = false
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
