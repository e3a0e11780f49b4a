// Package store persists identity provider sessions.
package store

import (
	"context"
	"sync"

	"github.com/sumire/career/internal/identity"
)

// MemoryStore keeps sessions in process memory. Sessions do not survive a
// restart.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]identity.SessionRecord
}

var _ identity.SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]identity.SessionRecord)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (identity.SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[key]
	return rec, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, rec identity.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key)
	return nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}
