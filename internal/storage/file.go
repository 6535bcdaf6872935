package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// FileStore persists the retention state as a JSON file. Writes go to a
// temp file first and are renamed into place, so a crash mid-write never
// leaves a half-written state behind.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a file-backed store at path, creating parent
// directories as needed.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{
		path:   path,
		logger: logger.With("component", "file_store"),
	}, nil
}

func (s *FileStore) Name() string { return "file" }

// Load reads the state file. Returns (nil, nil) when no state exists yet.
func (s *FileStore) Load() (*types.RetentionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.StoreError{Backend: s.Name(), Op: "load", Err: err}
	}
	defer f.Close()

	var state types.RetentionState
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return nil, &types.StoreError{
			Backend: s.Name(),
			Op:      "load",
			Err:     fmt.Errorf("%w: %v", types.ErrStateCorrupt, err),
		}
	}
	return &state, nil
}

// Save writes the state atomically via temp file and rename.
func (s *FileStore) Save(state types.RetentionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return &types.StoreError{Backend: s.Name(), Op: "save", Err: err}
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &types.StoreError{Backend: s.Name(), Op: "save", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &types.StoreError{Backend: s.Name(), Op: "save", Err: err}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return &types.StoreError{Backend: s.Name(), Op: "save", Err: err}
	}

	s.logger.Debug("state saved", "path", s.path, "posts", len(state.Posts))
	return nil
}

func (s *FileStore) Close() error { return nil }
