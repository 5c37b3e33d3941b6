package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tablecash/cashier/internal/model"
)

// MemoryStore implements Store with an in-memory map. Sessions live for
// the lifetime of the process; a restart loses all of them.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
	}
}

func (s *MemoryStore) GetSession(_ context.Context, channelID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", ErrNotFound, channelID)
	}
	return session.Clone(), nil
}

func (s *MemoryStore) PutSession(_ context.Context, session *model.Session) error {
	if session == nil || session.ChannelID == "" {
		return fmt.Errorf("store: session must have a channel id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.sessions[session.ChannelID] = session.Clone()
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, channelID)
	return nil
}

// ListSessions returns every session ordered by channel id.
func (s *MemoryStore) ListSessions(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]model.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, *session.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ChannelID < sessions[j].ChannelID
	})
	return sessions, nil
}
