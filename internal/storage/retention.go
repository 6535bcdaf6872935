package storage

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/IshaanNene/FeedStalk/internal/engine"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

// Update describes a committed change to the retention state, delivered to
// subscribers after the change has been persisted.
type Update struct {
	// Added is how many of the merged posts were new. Zero for resets.
	Added int

	// Posts is the retained window after the change, newest first.
	Posts []types.Post

	// LastFetch is the state's last-fetch instant after the change.
	LastFetch time.Time
}

// RetentionStore owns the bounded window of known posts. It is the single
// writer of the persisted state: every mutation filters, sorts, truncates,
// persists, and only then becomes visible, so callers never observe a
// partial merge.
type RetentionStore struct {
	mu       sync.Mutex
	state    types.RetentionState
	backend  StateStore
	maxPosts int
	subs     []func(Update)
	logger   *slog.Logger
}

// NewRetentionStore loads the persisted state from backend, or starts from
// the pristine first-fetch state when nothing is persisted yet.
func NewRetentionStore(backend StateStore, maxPosts int, logger *slog.Logger) (*RetentionStore, error) {
	s := &RetentionStore{
		backend:  backend,
		maxPosts: maxPosts,
		logger:   logger.With("component", "retention"),
	}

	loaded, err := backend.Load()
	if err != nil {
		return nil, err
	}
	if loaded != nil {
		s.state = loaded.Clone()
		if s.state.Posts == nil {
			s.state.Posts = []types.Post{}
		}
		// A persisted window larger than the current limit is trimmed on
		// load so the bound holds from the first read.
		if len(s.state.Posts) > maxPosts {
			s.state.Posts = s.state.Posts[:maxPosts]
		}
		s.logger.Info("state restored",
			"backend", backend.Name(),
			"posts", len(s.state.Posts),
			"first_fetch", s.state.FirstFetch)
	} else {
		s.state = types.NewRetentionState()
	}

	return s, nil
}

// Subscribe registers a callback invoked after every committed merge or
// reset. Callbacks run outside the store lock and may call back in.
func (s *RetentionStore) Subscribe(fn func(Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Merge folds candidate posts into the retained window and returns how many
// were new. Candidates already known, or repeated within the batch, count
// zero times. A batch with nothing novel leaves the state untouched: no
// sort, no persist, no notification.
func (s *RetentionStore) Merge(candidates []types.Post) (int, error) {
	s.mu.Lock()

	known := make(map[string]struct{}, len(s.state.Posts))
	for _, p := range s.state.Posts {
		known[p.ID] = struct{}{}
	}
	novel := engine.FilterNovel(candidates, known)

	if len(novel) == 0 {
		s.mu.Unlock()
		return 0, nil
	}

	// Novel posts go in front, then everything is ordered newest first.
	// The sort is stable so posts sharing an instant keep their relative
	// placement instead of flapping between merges.
	merged := make([]types.Post, 0, len(novel)+len(s.state.Posts))
	merged = append(merged, novel...)
	merged = append(merged, s.state.Posts...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Instant.After(merged[j].Instant)
	})

	if len(merged) > s.maxPosts {
		merged = merged[:s.maxPosts]
	}

	next := types.RetentionState{
		Posts:      merged,
		LastFetch:  merged[0].Instant,
		FirstFetch: false,
	}

	update, err := s.commitLocked(next, len(novel))
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.notify(update)
	s.logger.Info("posts merged",
		"candidates", len(candidates),
		"added", len(novel),
		"retained", len(update.Posts))

	return len(novel), nil
}

// Reset discards all known posts and restores the pristine first-fetch
// state, persisting the wipe.
func (s *RetentionStore) Reset() error {
	s.mu.Lock()
	update, err := s.commitLocked(types.NewRetentionState(), 0)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(update)
	s.logger.Info("state reset")
	return nil
}

// Posts returns a copy of the retained window, newest first.
func (s *RetentionStore) Posts() []types.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Post, len(s.state.Posts))
	copy(out, s.state.Posts)
	return out
}

// State returns a copy of the full retention state.
func (s *RetentionStore) State() types.RetentionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// LatestInstant returns the newest retained post's instant. ok is false when
// the window is empty.
func (s *RetentionStore) LatestInstant() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.Posts) == 0 {
		return time.Time{}, false
	}
	return s.state.Posts[0].Instant, true
}

// Len returns the number of retained posts.
func (s *RetentionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Posts)
}

// Close closes the underlying backend.
func (s *RetentionStore) Close() error {
	return s.backend.Close()
}

// commitLocked persists next and, on success, makes it the visible state.
// A failed persist leaves the previous state in place. Caller holds mu.
func (s *RetentionStore) commitLocked(next types.RetentionState, added int) (Update, error) {
	if err := s.backend.Save(next); err != nil {
		return Update{}, err
	}
	s.state = next

	posts := make([]types.Post, len(next.Posts))
	copy(posts, next.Posts)
	return Update{Added: added, Posts: posts, LastFetch: next.LastFetch}, nil
}

// notify delivers an update to all subscribers, outside the lock.
func (s *RetentionStore) notify(update Update) {
	s.mu.Lock()
	subs := make([]func(Update), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(update)
	}
}
