package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNoTab         = errors.New("no feed tab is tracked")
	ErrTabGone       = errors.New("tab no longer exists")
	ErrNotFeedURL    = errors.New("tab is not on the feed URL")
	ErrEmptySnapshot = errors.New("empty page snapshot")
	ErrBadMessage    = errors.New("malformed message")
	ErrNoHandler     = errors.New("no handler for message type")
	ErrStateCorrupt  = errors.New("retention state is corrupt")
	ErrStopped       = errors.New("monitoring has been stopped")
)

// HostError wraps failures talking to the tab host: queries, navigation,
// reloads, snapshot reads. TabGone marks the tab as unrecoverable so the
// monitor can drop its reference instead of retrying.
type HostError struct {
	Op      string
	TabID   string
	Err     error
	TabGone bool
}

func (e *HostError) Error() string {
	if e.TabID != "" {
		return fmt.Sprintf("host error during %s (tab %s): %v", e.Op, e.TabID, e.Err)
	}
	return fmt.Sprintf("host error during %s: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// IsTabGone reports whether err indicates the target tab no longer exists.
func IsTabGone(err error) bool {
	if errors.Is(err, ErrTabGone) {
		return true
	}
	var he *HostError
	return errors.As(err, &he) && he.TabGone
}

// ExtractError wraps failures extracting a single post field from the page.
type ExtractError struct {
	Field    string
	Selector string
	Err      error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract error for %s (selector=%q): %v", e.Field, e.Selector, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// StoreError wraps errors from the state backends.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error (%s %s): %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
