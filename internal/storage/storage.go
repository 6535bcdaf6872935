package storage

import (
	"fmt"
	"log/slog"

	"github.com/IshaanNene/FeedStalk/internal/config"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

// StateStore persists the retention state as one JSON-serializable blob.
// Backends only move the blob; the retention logic lives above them.
type StateStore interface {
	// Load reads the persisted state. A nil state with a nil error means
	// nothing has been persisted yet.
	Load() (*types.RetentionState, error)

	// Save replaces the persisted state.
	Save(state types.RetentionState) error

	// Close releases backend resources.
	Close() error

	// Name returns the backend identifier.
	Name() string
}

// NewStateStore builds the configured backend.
func NewStateStore(cfg config.StorageConfig, logger *slog.Logger) (StateStore, error) {
	switch cfg.Type {
	case "file":
		return NewFileStore(cfg.Path, logger)
	case "memory":
		return NewMemoryStore(logger), nil
	case "mongodb":
		return NewMongoStore(cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
