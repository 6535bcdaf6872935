package storage

import (
	"log/slog"
	"sync"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// MemoryStore keeps the retention state in RAM. Used for one-shot fetches
// and tests, where persistence across processes is not wanted.
type MemoryStore struct {
	mu     sync.Mutex
	state  *types.RetentionState
	logger *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger.With("component", "memory_store"),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Load() (*types.RetentionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	state := s.state.Clone()
	return &state, nil
}

func (s *MemoryStore) Save(state types.RetentionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := state.Clone()
	s.state = &clone
	return nil
}

func (s *MemoryStore) Close() error { return nil }
