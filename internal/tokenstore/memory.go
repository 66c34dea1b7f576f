package tokenstore

import (
	"context"
	"sync"

	"github.com/teemow/jarvis/internal/google"
)

// MemoryStore keeps token records in process memory. Records are stored in
// their serialized form so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Load implements google.TokenStore.
func (s *MemoryStore) Load(_ context.Context, account string) (*google.TokenRecord, error) {
	s.mu.RLock()
	data, ok := s.records[account]
	s.mu.RUnlock()
	if !ok {
		return nil, google.ErrTokenNotFound
	}
	return decode(data, nil)
}

// Save implements google.TokenStore.
func (s *MemoryStore) Save(_ context.Context, account string, rec *google.TokenRecord) error {
	data, err := encode(rec, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[account] = data
	s.mu.Unlock()
	return nil
}

// Delete implements google.TokenStore.
func (s *MemoryStore) Delete(_ context.Context, account string) error {
	s.mu.Lock()
	delete(s.records, account)
	s.mu.Unlock()
	return nil
}
