package tabhost

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/FeedStalk/internal/config"
	"github.com/IshaanNene/FeedStalk/internal/engine"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

// RodHost drives real browser tabs over the DevTools protocol. It either
// attaches to a running browser via control_url or launches its own
// Chromium instance.
type RodHost struct {
	browser *rod.Browser
	cfg     config.HostConfig
	events  chan TabEvent
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// NewRodHost connects to (or launches) a browser and starts watching tab
// lifecycle events.
func NewRodHost(cfg config.HostConfig, logger *slog.Logger) (*RodHost, error) {
	controlURL := cfg.ControlURL
	if controlURL == "" {
		var err error
		controlURL, err = launchBrowser(cfg)
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &RodHost{
		browser: browser,
		cfg:     cfg,
		events:  make(chan TabEvent, eventBuffer),
		cancel:  cancel,
		logger:  logger.With("component", "rod_host"),
	}

	go h.watchTargets(ctx)

	h.logger.Info("browser host ready",
		"control_url", controlURL,
		"stealth", cfg.Stealth)

	return h, nil
}

// launchBrowser starts a Chromium instance with appropriate flags.
func launchBrowser(cfg config.HostConfig) (string, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")
	return l.Launch()
}

// watchTargets forwards browser target destruction as EventClosed until the
// host is closed.
func (h *RodHost) watchTargets(ctx context.Context) {
	h.browser.Context(ctx).EachEvent(func(e *proto.TargetTargetDestroyed) {
		h.emit(TabEvent{Kind: EventClosed, TabID: string(e.TargetID)})
	})()
}

func (h *RodHost) emit(ev TabEvent) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("event dropped", "kind", string(ev.Kind), "tab", ev.TabID)
	}
}

// QueryTabs lists open tabs whose URL starts with any of the prefixes.
func (h *RodHost) QueryTabs(ctx context.Context, prefixes []string) ([]Tab, error) {
	pages, err := h.browser.Pages()
	if err != nil {
		return nil, &types.HostError{Op: "query", Err: err}
	}

	var tabs []Tab
	for _, page := range pages {
		info, err := page.Context(ctx).Info()
		if err != nil {
			continue
		}
		for _, prefix := range prefixes {
			if prefix != "" && strings.HasPrefix(info.URL, prefix) {
				tabs = append(tabs, Tab{ID: string(page.TargetID), URL: info.URL})
				break
			}
		}
	}
	return tabs, nil
}

// CreateTab opens a tab on url and blocks until the navigation settles.
func (h *RodHost) CreateTab(ctx context.Context, url string) (Tab, error) {
	var page *rod.Page
	var err error

	if h.cfg.Stealth {
		page, err = stealth.Page(h.browser)
		if err == nil {
			err = page.Context(ctx).Navigate(url)
		}
	} else {
		page, err = h.browser.Page(proto.TargetCreateTarget{URL: url})
	}
	if err != nil {
		return Tab{}, &types.HostError{Op: "create", Err: err}
	}

	h.waitSettled(ctx, page)

	finalURL := url
	if info, err := page.Context(ctx).Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	h.logger.Info("tab created", "tab", string(page.TargetID), "url", finalURL)
	return Tab{ID: string(page.TargetID), URL: finalURL, Active: true}, nil
}

// ActivateTab brings the tab to the foreground.
func (h *RodHost) ActivateTab(ctx context.Context, id string) error {
	page, err := h.pageByID(ctx, id, "activate")
	if err != nil {
		return err
	}
	if _, err := page.Activate(); err != nil {
		return &types.HostError{Op: "activate", TabID: id, Err: err}
	}
	return nil
}

// ReloadTab issues a reload and reports completion asynchronously: once the
// page settles again an EventLoaded with the final URL lands on the event
// stream.
func (h *RodHost) ReloadTab(ctx context.Context, id string) error {
	page, err := h.pageByID(ctx, id, "reload")
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Reload(); err != nil {
		return &types.HostError{Op: "reload", TabID: id, Err: err}
	}

	go func() {
		h.waitSettled(context.Background(), page)
		info, err := page.Info()
		if err != nil {
			// Closure is reported by the target watcher; anything else
			// leaves the reload pending until the next poll supersedes it.
			h.logger.Warn("reload completion lost", "tab", id, "error", err)
			return
		}
		h.emit(TabEvent{Kind: EventLoaded, TabID: id, URL: info.URL})
	}()

	h.logger.Debug("reload issued", "tab", id)
	return nil
}

// Page returns the scrape surface for a tab.
func (h *RodHost) Page(id string) (engine.Page, error) {
	page, err := h.pageByID(context.Background(), id, "page")
	if err != nil {
		return nil, err
	}
	return &rodPage{page: page, id: id}, nil
}

// Events returns the host's event stream.
func (h *RodHost) Events() <-chan TabEvent {
	return h.events
}

// Close stops the event watcher and shuts the browser connection down.
func (h *RodHost) Close() error {
	h.cancel()
	return h.browser.Close()
}

// waitSettled waits for network and DOM activity in the tab to quiet down.
// A timeout here is not fatal: heavy feeds never go fully idle, so the page
// is read in whatever state it reached.
func (h *RodHost) waitSettled(ctx context.Context, page *rod.Page) {
	wait := h.cfg.LoadWait
	if wait <= 0 {
		wait = 300 * time.Millisecond
	}
	if err := page.Context(ctx).Timeout(30 * time.Second).WaitStable(wait); err != nil {
		h.logger.Warn("page stability timeout, continuing", "error", err)
	}
}

func (h *RodHost) pageByID(ctx context.Context, id, op string) (*rod.Page, error) {
	page, err := h.browser.PageFromTarget(proto.TargetTargetID(id))
	if err != nil {
		return nil, &types.HostError{Op: op, TabID: id, Err: err, TabGone: true}
	}
	return page.Context(ctx), nil
}

// rodPage adapts a rod page to the collector's Page interface.
type rodPage struct {
	page *rod.Page
	id   string
}

// Content returns the serialized DOM as currently rendered.
func (p *rodPage) Content(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", &types.HostError{Op: "snapshot", TabID: p.id, Err: err}
	}
	if html == "" {
		return "", &types.HostError{Op: "snapshot", TabID: p.id, Err: types.ErrEmptySnapshot}
	}
	return html, nil
}

// ScrollToBottom scrolls the tab to the bottom of the document.
func (p *rodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`window.scrollTo(0, document.body.scrollHeight)`)
	if err != nil {
		return &types.HostError{Op: "scroll", TabID: p.id, Err: err}
	}
	return nil
}
