// Package tabhost abstracts where the feed page lives: a real browser tab
// driven over DevTools, or a static HTTP snapshot for headless environments
// and tests. The monitor only ever talks to the Host interface.
package tabhost

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/FeedStalk/internal/config"
	"github.com/IshaanNene/FeedStalk/internal/engine"
)

// Tab identifies one tab known to the host.
type Tab struct {
	ID     string
	URL    string
	Active bool
}

// EventKind distinguishes tab lifecycle events.
type EventKind string

const (
	// EventLoaded fires when a navigation or reload in a tab has settled.
	// URL carries the tab's final URL, after any redirects.
	EventLoaded EventKind = "loaded"

	// EventClosed fires when a tab is gone.
	EventClosed EventKind = "closed"
)

// TabEvent is delivered on the host's event stream.
type TabEvent struct {
	Kind  EventKind
	TabID string
	URL   string
}

// Host manages feed tabs. CreateTab blocks until the initial navigation has
// settled; ReloadTab returns once the reload is issued and signals completion
// through an EventLoaded on the event stream.
type Host interface {
	// QueryTabs returns tabs whose URL starts with any of the prefixes.
	QueryTabs(ctx context.Context, prefixes []string) ([]Tab, error)

	// CreateTab opens a new tab on url and waits for it to load.
	CreateTab(ctx context.Context, url string) (Tab, error)

	// ActivateTab brings a tab to the foreground.
	ActivateTab(ctx context.Context, id string) error

	// ReloadTab reloads a tab. Completion arrives as an EventLoaded.
	ReloadTab(ctx context.Context, id string) error

	// Page returns the scrape surface for a tab.
	Page(id string) (engine.Page, error)

	// Events returns the host's event stream. The same channel is returned
	// on every call.
	Events() <-chan TabEvent

	// Close shuts the host down.
	Close() error
}

// New builds the configured host implementation.
func New(cfg *config.Config, logger *slog.Logger) (Host, error) {
	switch cfg.Host.Type {
	case "browser":
		return NewRodHost(cfg.Host, logger)
	case "snapshot":
		return NewSnapshotHost(logger), nil
	default:
		return nil, fmt.Errorf("unknown host type %q", cfg.Host.Type)
	}
}

// eventBuffer is the event channel capacity shared by host implementations.
// Sends never block: if the consumer stalls this long, events are dropped
// with a warning rather than wedging the host.
const eventBuffer = 16
