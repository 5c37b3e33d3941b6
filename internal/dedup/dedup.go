// Package dedup remembers processed inbound event ids so redelivered
// webhooks are acknowledged without being applied twice.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store marks event ids as seen.
type Store interface {
	// MarkSeen records id and reports whether this is its first sighting.
	MarkSeen(ctx context.Context, id string) (bool, error)

	// Forget drops id so a later delivery is processed again.
	Forget(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store. Ids expire after the configured TTL.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time // id -> expiry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore creates an in-memory dedup store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (s *MemoryStore) MarkSeen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[id] = now.Add(s.ttl)
	s.sweep(now)
	return true, nil
}

func (s *MemoryStore) Forget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, id)
	return nil
}

// Len returns the number of remembered ids, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// sweep drops expired ids. Caller must hold s.mu.
func (s *MemoryStore) sweep(now time.Time) {
	for id, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, id)
		}
	}
}
