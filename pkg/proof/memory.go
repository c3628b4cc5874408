package proof

import (
	"context"
	"fmt"
	"sync"

	"github.com/0xredeth/Quittance/pkg/store"
)

// MemStore is an in-memory Store used in tests. It holds value copies, so
// neither the caller's record nor a record handed out by Get aliases
// stored state.
type MemStore struct {
	mu    sync.RWMutex
	calls map[string]store.ApiCall
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{calls: make(map[string]store.ApiCall)}
}

// Upsert stores the api call unless its ID is already present.
func (s *MemStore) Upsert(ctx context.Context, call *store.ApiCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[call.ID]; ok {
		return nil
	}
	s.calls[call.ID] = *call
	return nil
}

// Get returns a copy of the api call stored under id.
func (s *MemStore) Get(ctx context.Context, id string) (*store.ApiCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &call, nil
}

// Count returns the number of stored api calls.
func (s *MemStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.calls)), nil
}

// Reset drops every stored api call. Test teardown only.
func (s *MemStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]store.ApiCall)
}
