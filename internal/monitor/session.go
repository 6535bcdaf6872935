package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IshaanNene/FeedStalk/internal/config"
	"github.com/IshaanNene/FeedStalk/internal/observability"
	"github.com/IshaanNene/FeedStalk/internal/tabhost"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

// State identifies the session's lifecycle phase.
type State string

const (
	StateIdle          State = "idle"
	StatePolling       State = "polling"
	StateReloadPending State = "reload_pending"
)

// ScrapeRequester runs one scrape cycle against a tab and merges the result
// into retained state.
type ScrapeRequester interface {
	Execute(ctx context.Context, tabID string) ([]types.Post, int, error)
}

// Observer receives the outcome of each scrape cycle.
type Observer interface {
	OnResult(added int, posts []types.Post)
	OnError(msg string)
}

// Session owns the lifecycle of the one monitored tab. It resolves or creates
// the tab, requests scrapes from it, and drives the reload→ready→scrape poll
// cycle so that at most one cycle is in flight and at most one timer is live.
type Session struct {
	cfg     *config.Config
	host    tabhost.Host
	scraper ScrapeRequester
	timer   *PollTimer
	metrics *observability.Metrics
	logger  *slog.Logger

	mu            sync.Mutex
	tabID         string // tracked tab, empty when none
	reloadPending bool
	pendingTabID  string // tab the last reload was issued for
	runCtx        context.Context
	observer      Observer
}

// NewSession creates an idle session. Call Run to start consuming host
// events, and Fetch to begin monitoring.
func NewSession(cfg *config.Config, host tabhost.Host, scraper ScrapeRequester, metrics *observability.Metrics, logger *slog.Logger) *Session {
	return &Session{
		cfg:     cfg,
		host:    host,
		scraper: scraper,
		timer:   NewPollTimer(cfg.Poll.Period, logger),
		metrics: metrics,
		logger:  logger.With("component", "monitor"),
		runCtx:  context.Background(),
	}
}

// SetObserver registers the upstream result/error receiver. Pass nil to
// detach.
func (s *Session) SetObserver(obs Observer) {
	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()
}

// Fetch resolves or creates the feed tab and runs one scrape cycle against
// it. A fetch supersedes whatever polling arrangement was in place: the timer
// and any pending reload are cancelled before the new cycle starts, and the
// timer is re-armed after a successful scrape.
func (s *Session) Fetch(ctx context.Context) ([]types.Post, int, error) {
	s.metrics.FetchesTotal.Add(1)
	s.timer.Stop()

	s.mu.Lock()
	s.reloadPending = false
	s.pendingTabID = ""
	s.mu.Unlock()

	tab, err := s.resolveTab(ctx)
	if err != nil {
		s.metrics.FetchErrors.Add(1)
		s.logger.Error("fetch failed", "error", err)
		s.notifyError(err.Error())
		return nil, 0, err
	}

	s.mu.Lock()
	s.tabID = tab.ID
	s.mu.Unlock()
	s.logger.Info("feed tab resolved", "tab", tab.ID, "url", tab.URL)

	posts, added, err := s.scrape(ctx, tab.ID)
	if err != nil {
		s.metrics.FetchErrors.Add(1)
	}
	return posts, added, err
}

// resolveTab prefers an existing tab already on the feed, activating it if it
// is in the background, over opening a new one.
func (s *Session) resolveTab(ctx context.Context) (tabhost.Tab, error) {
	tabs, err := s.host.QueryTabs(ctx, s.cfg.Feed.URLPrefixes)
	if err != nil {
		return tabhost.Tab{}, fmt.Errorf("query tabs: %w", err)
	}
	if len(tabs) > 0 {
		tab := tabs[0]
		if !tab.Active {
			if err := s.host.ActivateTab(ctx, tab.ID); err != nil {
				return tabhost.Tab{}, fmt.Errorf("activate tab %s: %w", tab.ID, err)
			}
		}
		return tab, nil
	}
	tab, err := s.host.CreateTab(ctx, s.cfg.Feed.URL)
	if err != nil {
		return tabhost.Tab{}, fmt.Errorf("create tab: %w", err)
	}
	return tab, nil
}

// scrape runs one collect+merge cycle and applies the success/failure
// transitions. On success the observer gets the result and the timer is
// re-armed while a tab is still tracked. On failure the timer stops; the
// tracked tab is kept for manual retry unless the error says it is gone.
func (s *Session) scrape(ctx context.Context, tabID string) ([]types.Post, int, error) {
	posts, added, err := s.scraper.Execute(ctx, tabID)
	if err != nil {
		s.timer.Stop()
		if types.IsTabGone(err) {
			s.clearTab(tabID)
		}
		s.logger.Error("scrape failed", "tab", tabID, "error", err)
		s.notifyError(err.Error())
		return nil, 0, err
	}

	s.logger.Info("scrape complete", "tab", tabID, "posts", len(posts), "added", added)
	s.notifyResult(added, posts)

	s.mu.Lock()
	known := s.tabID != ""
	s.mu.Unlock()
	if known {
		s.armTimer()
	}
	return posts, added, nil
}

// HandleTimerFire issues a reload of the tracked tab; the scrape itself waits
// for the host's load-complete event. A fire with no tracked tab stops the
// timer. A failure to issue the reload aborts polling entirely.
func (s *Session) HandleTimerFire(ctx context.Context) {
	s.metrics.TimerFires.Add(1)

	s.mu.Lock()
	id := s.tabID
	if id == "" {
		s.mu.Unlock()
		s.logger.Warn("timer fired with no tracked tab, stopping")
		s.timer.Stop()
		return
	}
	// Mark the reload pending before issuing it: the host may deliver the
	// load-complete event before ReloadTab returns.
	s.reloadPending = true
	s.pendingTabID = id
	s.mu.Unlock()

	s.logger.Debug("poll reload", "tab", id)
	if err := s.host.ReloadTab(ctx, id); err != nil {
		s.metrics.ReloadErrors.Add(1)
		s.timer.Stop()
		s.clearTab(id)
		s.logger.Error("reload failed, polling aborted", "tab", id, "error", err)
		s.notifyError(fmt.Sprintf("reload tab %s: %v", id, err))
		return
	}
	s.metrics.ReloadsTotal.Add(1)
}

// HandleTabLoaded processes a page-load-complete event from the host. Only a
// completion for the exact tab whose reload is pending triggers a scrape; the
// tab must also still be on the feed, otherwise monitoring stops.
func (s *Session) HandleTabLoaded(ctx context.Context, id, finalURL string) {
	s.mu.Lock()
	if s.pendingTabID != id {
		s.mu.Unlock()
		return
	}
	if !s.reloadPending {
		// Stray completion: nothing waits on it, drop the stale reference.
		s.pendingTabID = ""
		s.mu.Unlock()
		s.logger.Debug("stray load completion ignored", "tab", id)
		return
	}
	s.reloadPending = false
	s.mu.Unlock()

	if !s.cfg.Feed.Matches(finalURL) {
		s.timer.Stop()
		s.clearTab(id)
		s.logger.Warn("tab navigated away from feed, monitoring stopped", "tab", id, "url", finalURL)
		s.notifyError(fmt.Sprintf("tab %s left the feed (%s)", id, finalURL))
		return
	}

	s.logger.Debug("reload complete, scraping", "tab", id)
	s.scrape(ctx, id)
}

// HandleTabClosed stops monitoring when the tracked tab goes away.
func (s *Session) HandleTabClosed(id string) {
	s.mu.Lock()
	tracked := s.tabID == id
	s.mu.Unlock()

	s.clearTab(id)
	if tracked {
		s.timer.Stop()
		s.logger.Info("tracked tab closed, monitoring stopped", "tab", id)
	}
}

// Run consumes host events until ctx is cancelled. Load-complete events feed
// the reload cycle; close events drop the tracked tab.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	events := s.host.Events()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case ev, ok := <-events:
			if !ok {
				s.Stop()
				return
			}
			switch ev.Kind {
			case tabhost.EventLoaded:
				s.HandleTabLoaded(ctx, ev.TabID, ev.URL)
			case tabhost.EventClosed:
				s.HandleTabClosed(ev.TabID)
			}
		}
	}
}

// Stop cancels polling and forgets the tracked tab.
func (s *Session) Stop() {
	s.timer.Stop()
	s.mu.Lock()
	s.tabID = ""
	s.pendingTabID = ""
	s.reloadPending = false
	s.mu.Unlock()
	s.logger.Info("monitoring stopped")
}

// State derives the lifecycle phase from the session fields.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reloadPending {
		return StateReloadPending
	}
	if s.tabID != "" && s.timer.Active() {
		return StatePolling
	}
	return StateIdle
}

// Status reports the session fields for the status endpoint.
func (s *Session) Status() map[string]any {
	state := s.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"state":          string(state),
		"tab_id":         s.tabID,
		"reload_pending": s.reloadPending,
		"polling":        s.timer.Active(),
		"poll_period":    s.timer.Period().String(),
	}
}

func (s *Session) armTimer() {
	s.timer.Arm(func() {
		ctx, cancel := context.WithTimeout(s.baseCtx(), s.cfg.Poll.HostTimeout)
		defer cancel()
		s.HandleTimerFire(ctx)
	})
}

func (s *Session) baseCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// clearTab drops tracked and pending references to id, leaving references to
// any other tab alone.
func (s *Session) clearTab(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabID == id {
		s.tabID = ""
	}
	if s.pendingTabID == id {
		s.pendingTabID = ""
		s.reloadPending = false
	}
}

func (s *Session) notifyResult(added int, posts []types.Post) {
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs.OnResult(added, posts)
	}
}

func (s *Session) notifyError(msg string) {
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs.OnError(msg)
	}
}
