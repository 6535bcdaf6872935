package types

import (
	"encoding/json"
	"time"
)

// DisplayTimeLayout is the fixed presentation format for post timestamps,
// rendered in the machine's local time zone.
const DisplayTimeLayout = "2006/01/02 15:04:05"

// Post is a single feed post captured from the page. Posts are value objects:
// once built by the extractor they are never mutated, only replaced.
type Post struct {
	// ID is the stable identity digest, 32 hex characters.
	ID string `json:"id"`

	// Author is the display name of the posting account.
	Author string `json:"author"`

	// Content is the post text exactly as it appeared in the feed.
	Content string `json:"content"`

	// DisplayTime is the local-time presentation string (DisplayTimeLayout).
	DisplayTime string `json:"display_time"`

	// Instant is the canonical UTC instant used for ordering and identity.
	Instant time.Time `json:"instant"`
}

// Before reports whether p was published before other, comparing instants.
func (p Post) Before(other Post) bool {
	return p.Instant.Before(other.Instant)
}

// ToJSON serializes the post to indented JSON.
func (p Post) ToJSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// RetentionState is the persisted shape of the bounded post window. It is the
// unit the state backends load and save: a single JSON-serializable blob.
type RetentionState struct {
	// Posts holds the retained window, newest first. Never exceeds the
	// configured retention limit.
	Posts []Post `json:"posts"`

	// LastFetch is the instant of the newest retained post after the most
	// recent merge that added anything. Zero until the first successful merge.
	LastFetch time.Time `json:"last_fetch"`

	// FirstFetch is true until a merge first adds posts to the window.
	FirstFetch bool `json:"first_fetch"`
}

// NewRetentionState returns the pristine state used before any fetch.
func NewRetentionState() RetentionState {
	return RetentionState{Posts: []Post{}, FirstFetch: true}
}

// Clone returns a deep copy safe to hand outside a lock.
func (s RetentionState) Clone() RetentionState {
	out := s
	out.Posts = make([]Post, len(s.Posts))
	copy(out.Posts, s.Posts)
	return out
}
