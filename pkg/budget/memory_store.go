package budget

import (
	"context"
	"sync"
)

// MemoryStorage implements Storage in memory.
// Thread-safe via RWMutex.
type MemoryStorage struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		states: make(map[string]*State),
	}
}

func (s *MemoryStorage) Load(ctx context.Context, mandateID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[mandateID]; ok {
		// return copy to avoid race on mutation outside lock
		return st.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStorage) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored int64
	if cur, ok := s.states[state.MandateID]; ok {
		stored = cur.Version
	}
	if stored != state.Version {
		return ErrVersionConflict
	}
	state.Version++
	s.states[state.MandateID] = state.Clone()
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, mandateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, mandateID)
	return nil
}
