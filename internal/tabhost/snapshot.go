package tabhost

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/FeedStalk/internal/engine"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

// maxSnapshotSize bounds how much of a feed document is read per request.
const maxSnapshotSize = 10 * 1024 * 1024 // 10MB

// SnapshotHost serves tabs backed by plain HTTP GETs of the feed URL. Each
// "tab" holds the last downloaded document; a reload re-downloads it.
// Scrolling is a no-op, so a scrape over a snapshot naturally stops on
// NoNewContent after the second step. Useful where no browser is available,
// and for driving the full pipeline in tests.
type SnapshotHost struct {
	client *http.Client
	mu     sync.Mutex
	tabs   map[string]*snapshotTab
	nextID int
	events chan TabEvent
	logger *slog.Logger
}

type snapshotTab struct {
	id       string
	url      string // the address the tab was opened on
	finalURL string // after redirects
	html     string
}

// NewSnapshotHost creates a snapshot host with its own HTTP client.
func NewSnapshotHost(logger *slog.Logger) *SnapshotHost {
	transport := &http.Transport{
		// Decompression is handled here, including brotli.
		DisableCompression: true,
	}
	return &SnapshotHost{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		tabs:   make(map[string]*snapshotTab),
		events: make(chan TabEvent, eventBuffer),
		logger: logger.With("component", "snapshot_host"),
	}
}

func (h *SnapshotHost) emit(ev TabEvent) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("event dropped", "kind", string(ev.Kind), "tab", ev.TabID)
	}
}

// QueryTabs lists snapshot tabs whose URL starts with any of the prefixes.
func (h *SnapshotHost) QueryTabs(ctx context.Context, prefixes []string) ([]Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var tabs []Tab
	for _, t := range h.tabs {
		for _, prefix := range prefixes {
			if prefix != "" && strings.HasPrefix(t.finalURL, prefix) {
				tabs = append(tabs, Tab{ID: t.id, URL: t.finalURL, Active: true})
				break
			}
		}
	}
	return tabs, nil
}

// CreateTab downloads url and registers it as a new tab.
func (h *SnapshotHost) CreateTab(ctx context.Context, url string) (Tab, error) {
	finalURL, html, err := h.download(ctx, url)
	if err != nil {
		return Tab{}, &types.HostError{Op: "create", Err: err}
	}

	h.mu.Lock()
	h.nextID++
	t := &snapshotTab{
		id:       fmt.Sprintf("snap-%d", h.nextID),
		url:      url,
		finalURL: finalURL,
		html:     html,
	}
	h.tabs[t.id] = t
	h.mu.Unlock()

	h.emit(TabEvent{Kind: EventLoaded, TabID: t.id, URL: finalURL})
	h.logger.Info("snapshot tab created", "tab", t.id, "url", finalURL, "size", len(html))
	return Tab{ID: t.id, URL: finalURL, Active: true}, nil
}

// ActivateTab is a no-op: snapshot tabs have no foreground.
func (h *SnapshotHost) ActivateTab(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tabs[id]; !ok {
		return &types.HostError{Op: "activate", TabID: id, Err: types.ErrTabGone, TabGone: true}
	}
	return nil
}

// ReloadTab re-downloads the tab's URL and emits an EventLoaded with the new
// final URL.
func (h *SnapshotHost) ReloadTab(ctx context.Context, id string) error {
	h.mu.Lock()
	t, ok := h.tabs[id]
	if !ok {
		h.mu.Unlock()
		return &types.HostError{Op: "reload", TabID: id, Err: types.ErrTabGone, TabGone: true}
	}
	url := t.url
	h.mu.Unlock()

	finalURL, html, err := h.download(ctx, url)
	if err != nil {
		return &types.HostError{Op: "reload", TabID: id, Err: err}
	}

	h.mu.Lock()
	if t, ok := h.tabs[id]; ok {
		t.finalURL = finalURL
		t.html = html
	}
	h.mu.Unlock()

	h.emit(TabEvent{Kind: EventLoaded, TabID: id, URL: finalURL})
	h.logger.Debug("snapshot tab reloaded", "tab", id, "size", len(html))
	return nil
}

// CloseTab drops a tab and emits an EventClosed.
func (h *SnapshotHost) CloseTab(id string) {
	h.mu.Lock()
	_, ok := h.tabs[id]
	delete(h.tabs, id)
	h.mu.Unlock()
	if ok {
		h.emit(TabEvent{Kind: EventClosed, TabID: id})
	}
}

// Page returns the scrape surface for a snapshot tab.
func (h *SnapshotHost) Page(id string) (engine.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tabs[id]; !ok {
		return nil, &types.HostError{Op: "page", TabID: id, Err: types.ErrTabGone, TabGone: true}
	}
	return &snapshotPage{host: h, id: id}, nil
}

// Events returns the host's event stream.
func (h *SnapshotHost) Events() <-chan TabEvent {
	return h.events
}

// Close drops all tabs.
func (h *SnapshotHost) Close() error {
	h.mu.Lock()
	h.tabs = make(map[string]*snapshotTab)
	h.mu.Unlock()
	h.client.CloseIdleConnections()
	return nil
}

// download fetches a URL and returns its final URL and decompressed body.
func (h *SnapshotHost) download(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	reader, err := decompressReader(resp, io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return "", "", err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", "", err
	}
	if len(body) == 0 {
		return "", "", types.ErrEmptySnapshot
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return finalURL, string(body), nil
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// snapshotPage reads the stored document; scrolling does nothing.
type snapshotPage struct {
	host *SnapshotHost
	id   string
}

func (p *snapshotPage) Content(ctx context.Context) (string, error) {
	p.host.mu.Lock()
	defer p.host.mu.Unlock()
	t, ok := p.host.tabs[p.id]
	if !ok {
		return "", &types.HostError{Op: "snapshot", TabID: p.id, Err: types.ErrTabGone, TabGone: true}
	}
	return t.html, nil
}

func (p *snapshotPage) ScrollToBottom(ctx context.Context) error {
	return nil
}
