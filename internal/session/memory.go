package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/statement-ledger/internal/pipeline"
)

// MemoryStore is an in-memory implementation of Store.
// It is safe for concurrent use. Data is lost on restart; use FileStore to
// resume sessions across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]pipeline.State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]pipeline.State),
	}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, st pipeline.State) error {
	if st.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid sharing slices with the caller
	s.sessions[st.ID] = st.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (pipeline.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.sessions[id]
	if !exists {
		return pipeline.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return st.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]pipeline.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]pipeline.State, 0, len(s.sessions))
	for _, st := range s.sessions {
		result = append(result, st.Clone())
	}
	sortByUpdated(result)
	return result, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func sortByUpdated(states []pipeline.State) {
	sort.SliceStable(states, func(i, j int) bool {
		if states[i].UpdatedAt.Equal(states[j].UpdatedAt) {
			return states[i].ID < states[j].ID
		}
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
