// Package feedstalk provides a public SDK for embedding the feed monitor as
// a library.
//
// Example usage:
//
//	m := feedstalk.NewMonitor(
//	    feedstalk.WithSnapshotHost(),
//	    feedstalk.WithFeedURL("http://localhost:8080/feed"),
//	    feedstalk.WithPollPeriod(30*time.Second),
//	)
//
//	m.OnUpdate(func(added int, posts []feedstalk.Post) {
//	    fmt.Printf("%d new post(s)\n", added)
//	})
//
//	if err := m.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Stop()
//
//	if _, err := m.Fetch(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package feedstalk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/IshaanNene/FeedStalk/internal/config"
	"github.com/IshaanNene/FeedStalk/internal/engine"
	"github.com/IshaanNene/FeedStalk/internal/monitor"
	"github.com/IshaanNene/FeedStalk/internal/observability"
	"github.com/IshaanNene/FeedStalk/internal/parser"
	"github.com/IshaanNene/FeedStalk/internal/storage"
	"github.com/IshaanNene/FeedStalk/internal/tabhost"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

// Post is one retained feed post.
type Post = types.Post

// UpdateFunc receives each successful scrape outcome: how many posts were new
// and everything the scrape collected.
type UpdateFunc func(added int, posts []Post)

// ErrorFunc receives monitor errors as display-ready strings.
type ErrorFunc func(msg string)

// Monitor is the high-level API for using FeedStalk as a library.
type Monitor struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	backend storage.StateStore
	store   *storage.RetentionStore
	host    tabhost.Host
	session *monitor.Session
	cancel  context.CancelFunc

	onUpdate UpdateFunc
	onError  ErrorFunc
}

// Option configures a Monitor.
type Option func(*config.Config)

// WithFeedURL sets the feed page to monitor. The URL also becomes the only
// accepted location prefix for the monitored tab.
func WithFeedURL(url string) Option {
	return func(c *config.Config) {
		c.Feed.URL = url
		c.Feed.URLPrefixes = []string{url}
	}
}

// WithFeedPrefixes sets the URL prefixes a tab may be on and still count as
// the feed.
func WithFeedPrefixes(prefixes ...string) Option {
	return func(c *config.Config) { c.Feed.URLPrefixes = prefixes }
}

// WithSelectors overrides the CSS selectors used to read the feed markup.
func WithSelectors(item, author, content, timestamp string) Option {
	return func(c *config.Config) {
		c.Feed.Selectors = config.SelectorsConfig{
			Item:    config.SelectorRule{Type: "css", Selector: item},
			Author:  config.SelectorRule{Type: "css", Selector: author},
			Content: config.SelectorRule{Type: "css", Selector: content},
			Time:    config.SelectorRule{Type: "css", Selector: timestamp},
		}
	}
}

// WithPollPeriod sets the reload interval while polling.
func WithPollPeriod(d time.Duration) Option {
	return func(c *config.Config) { c.Poll.Period = d }
}

// WithScrollTarget sets the minimum posts one scrape tries to collect.
func WithScrollTarget(n int) Option {
	return func(c *config.Config) { c.Scroll.TargetCount = n }
}

// WithMaxAttempts sets the scroll attempt limit per scrape.
func WithMaxAttempts(n int) Option {
	return func(c *config.Config) { c.Scroll.MaxAttempts = n }
}

// WithStepDelay sets the pause between scroll steps.
func WithStepDelay(d time.Duration) Option {
	return func(c *config.Config) { c.Scroll.StepDelay = d }
}

// WithRetention sets how many posts the retained window keeps.
func WithRetention(n int) Option {
	return func(c *config.Config) { c.Retention.MaxPosts = n }
}

// WithFileStorage persists state as a JSON file at path.
func WithFileStorage(path string) Option {
	return func(c *config.Config) {
		c.Storage.Type = "file"
		c.Storage.Path = path
	}
}

// WithMemoryStorage keeps state in memory only.
func WithMemoryStorage() Option {
	return func(c *config.Config) { c.Storage.Type = "memory" }
}

// WithMongoStorage persists state in MongoDB.
func WithMongoStorage(uri, database, collection string) Option {
	return func(c *config.Config) {
		c.Storage.Type = "mongodb"
		c.Storage.Mongo = config.MongoConfig{
			URI:        uri,
			Database:   database,
			Collection: collection,
		}
	}
}

// WithBrowser monitors a real browser tab. An empty controlURL launches a
// managed browser; otherwise it is the DevTools websocket of a running one.
func WithBrowser(controlURL string) Option {
	return func(c *config.Config) {
		c.Host.Type = "browser"
		c.Host.ControlURL = controlURL
	}
}

// WithHeadful shows the browser window.
func WithHeadful() Option {
	return func(c *config.Config) { c.Host.Headless = false }
}

// WithStealth applies bot-detection evasion to new pages.
func WithStealth() Option {
	return func(c *config.Config) { c.Host.Stealth = true }
}

// WithSnapshotHost monitors HTTP snapshots of the feed instead of a browser.
func WithSnapshotHost() Option {
	return func(c *config.Config) { c.Host.Type = "snapshot" }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *config.Config) { c.Logging.Level = "debug" }
}

// NewMonitor creates a new Monitor with the given options.
func NewMonitor(opts ...Option) *Monitor {
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return &Monitor{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(logger),
	}
}

// OnUpdate registers the scrape result callback.
func (m *Monitor) OnUpdate(fn UpdateFunc) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// OnError registers the error callback.
func (m *Monitor) OnError(fn ErrorFunc) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// Start validates the configuration, builds the pipeline, and begins
// consuming host events. It does not scrape; call Fetch for that.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return fmt.Errorf("monitor already started")
	}
	if err := config.Validate(m.cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	backend, err := storage.NewStateStore(m.cfg.Storage, m.logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	store, err := storage.NewRetentionStore(backend, m.cfg.Retention.MaxPosts, m.logger)
	if err != nil {
		backend.Close()
		return fmt.Errorf("open retention store: %w", err)
	}
	host, err := tabhost.New(m.cfg, m.logger)
	if err != nil {
		backend.Close()
		return fmt.Errorf("create tab host: %w", err)
	}

	extractor := parser.NewExtractor(parser.ProfileFromConfig(m.cfg.Feed.Selectors), parser.DefaultFilterChain(m.logger), m.logger)
	collector := engine.NewCollector(extractor, m.cfg.Scroll.TargetCount, m.cfg.Scroll.MaxAttempts, m.cfg.Scroll.StepDelay, m.logger)
	service := engine.NewService(collector, host, store, m.metrics, m.logger)

	session := monitor.NewSession(m.cfg, host, service, m.metrics, m.logger)
	session.SetObserver(&sdkObserver{m: m})

	runCtx, cancel := context.WithCancel(ctx)
	go session.Run(runCtx)

	m.backend = backend
	m.store = store
	m.host = host
	m.session = session
	m.cancel = cancel
	return nil
}

// Fetch runs one scrape cycle now and, on success, keeps polling on the
// configured period. It returns how many posts were new.
func (m *Monitor) Fetch(ctx context.Context) (int, error) {
	session := m.activeSession()
	if session == nil {
		return 0, fmt.Errorf("monitor not started")
	}
	_, added, err := session.Fetch(ctx)
	return added, err
}

// Watch runs the whole monitoring loop in one call: start the pipeline, run
// an initial fetch, then poll until ctx ends. The monitor is stopped before
// Watch returns, so callbacks registered with OnUpdate and OnError are the
// way to consume results.
func (m *Monitor) Watch(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Stop()

	if _, err := m.Fetch(ctx); err != nil {
		return fmt.Errorf("initial fetch: %w", err)
	}

	<-ctx.Done()
	return nil
}

// Posts returns the retained window, newest first.
func (m *Monitor) Posts() []Post {
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Posts()
}

// Reset clears the retained window and its persisted state.
func (m *Monitor) Reset() error {
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()
	if store == nil {
		return fmt.Errorf("monitor not started")
	}
	return store.Reset()
}

// State reports the monitor's lifecycle phase: idle, polling, or
// reload_pending.
func (m *Monitor) State() string {
	session := m.activeSession()
	if session == nil {
		return string(monitor.StateIdle)
	}
	return string(session.State())
}

// Stats returns operational counters.
func (m *Monitor) Stats() map[string]int64 {
	return m.metrics.Snapshot()
}

// Stop ends monitoring and releases the host and storage backend.
func (m *Monitor) Stop() {
	m.mu.Lock()
	session := m.session
	cancel := m.cancel
	host := m.host
	backend := m.backend
	m.session = nil
	m.cancel = nil
	m.host = nil
	m.store = nil
	m.backend = nil
	m.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if host != nil {
		host.Close()
	}
	if backend != nil {
		backend.Close()
	}
}

// Export writes posts to w in the given format: json, jsonl, or csv.
func Export(w io.Writer, posts []Post, format string) error {
	return storage.ExportPosts(w, posts, format)
}

func (m *Monitor) activeSession() *monitor.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// sdkObserver forwards session callbacks to the registered functions.
type sdkObserver struct {
	m *Monitor
}

func (o *sdkObserver) OnResult(added int, posts []types.Post) {
	o.m.mu.Lock()
	fn := o.m.onUpdate
	o.m.mu.Unlock()
	if fn != nil {
		fn(added, posts)
	}
}

func (o *sdkObserver) OnError(msg string) {
	o.m.mu.Lock()
	fn := o.m.onError
	o.m.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}
