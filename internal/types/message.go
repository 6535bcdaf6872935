package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags a bus message. The set is closed: anything outside it is
// rejected at the boundary.
type MessageType string

const (
	// MsgFetchRequest asks the monitor to resolve the feed tab and scrape it.
	MsgFetchRequest MessageType = "FETCH_REQUEST"

	// MsgExecuteScrape asks the scrape service to collect from a specific tab.
	MsgExecuteScrape MessageType = "EXECUTE_SCRAPE"

	// MsgScrapeComplete reports a finished scrape with its merged payload.
	MsgScrapeComplete MessageType = "SCRAPE_COMPLETE"

	// MsgScrapeError reports a scrape that failed after the tab was resolved.
	MsgScrapeError MessageType = "SCRAPE_ERROR"

	// MsgFetchError reports a fetch that failed before any scrape ran.
	MsgFetchError MessageType = "FETCH_ERROR"

	// MsgDataResponse carries the current retained window to observers.
	MsgDataResponse MessageType = "DATA_RESPONSE"
)

// Message is the envelope exchanged on the bus and over the observer API.
// Which fields are meaningful depends on Type; Validate enforces the shape.
type Message struct {
	Type      MessageType `json:"type"`
	TabID     string      `json:"tab_id,omitempty"`
	Payload   []Post      `json:"payload,omitempty"`
	Added     int         `json:"added"`
	Error     string      `json:"error,omitempty"`
	LastFetch time.Time   `json:"last_fetch,omitzero"`
}

// NewScrapeComplete builds a success response for a scrape.
func NewScrapeComplete(posts []Post, added int) Message {
	return Message{Type: MsgScrapeComplete, Payload: posts, Added: added}
}

// NewScrapeError builds a failure response for a scrape that was dispatched.
func NewScrapeError(err error) Message {
	return Message{Type: MsgScrapeError, Error: err.Error()}
}

// NewFetchError builds a failure response for a fetch that never scraped.
func NewFetchError(err error) Message {
	return Message{Type: MsgFetchError, Error: err.Error()}
}

// NewDataResponse builds an observer notification from the retained state.
func NewDataResponse(state RetentionState, added int) Message {
	return Message{
		Type:      MsgDataResponse,
		Payload:   state.Posts,
		Added:     added,
		LastFetch: state.LastFetch,
	}
}

// Validate checks that the message carries the fields its type requires.
func (m Message) Validate() error {
	switch m.Type {
	case MsgFetchRequest:
		return nil
	case MsgExecuteScrape:
		if m.TabID == "" {
			return fmt.Errorf("%w: %s requires tab_id", ErrBadMessage, m.Type)
		}
		return nil
	case MsgScrapeComplete, MsgDataResponse:
		// Payload may legitimately be empty.
		return nil
	case MsgScrapeError, MsgFetchError:
		if m.Error == "" {
			return fmt.Errorf("%w: %s requires error", ErrBadMessage, m.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadMessage, string(m.Type))
	}
}

// DecodeMessage parses and validates a wire message. Unknown types and
// missing required fields are rejected rather than passed through.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
