package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/FeedStalk/internal/api"
	"github.com/IshaanNene/FeedStalk/internal/bus"
	"github.com/IshaanNene/FeedStalk/internal/config"
	"github.com/IshaanNene/FeedStalk/internal/engine"
	"github.com/IshaanNene/FeedStalk/internal/monitor"
	"github.com/IshaanNene/FeedStalk/internal/observability"
	"github.com/IshaanNene/FeedStalk/internal/parser"
	"github.com/IshaanNene/FeedStalk/internal/storage"
	"github.com/IshaanNene/FeedStalk/internal/tabhost"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// feedItem is one post in the simulated feed.
type feedItem struct {
	author   string
	content  string
	datetime string
	promoted bool
}

// feedServer renders a mutable item list as feed markup, newest first.
type feedServer struct {
	mu    sync.Mutex
	items []feedItem
}

func (f *feedServer) prepend(item feedItem) {
	f.mu.Lock()
	f.items = append([]feedItem{item}, f.items...)
	f.mu.Unlock()
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	b.WriteString("<html><body><main>")
	for _, item := range f.items {
		b.WriteString(`<article data-testid="tweet">`)
		if item.promoted {
			b.WriteString(`<div data-testid="socialContext"><span>Promoted</span></div>`)
		}
		fmt.Fprintf(&b, `<div data-testid="User-Name"><span>%s</span></div>`, item.author)
		fmt.Fprintf(&b, `<div data-testid="tweetText"><span>%s</span></div>`, item.content)
		fmt.Fprintf(&b, `<time datetime="%s">Nov 7</time>`, item.datetime)
		b.WriteString(`</article>`)
	}
	b.WriteString("</main></body></html>")
	w.Write([]byte(b.String()))
}

func threeItemFeed() *feedServer {
	return &feedServer{items: []feedItem{
		{author: "Ada Lovelace", content: "The engine weaves algebraic patterns.", datetime: "2025-11-07T10:15:00.000Z"},
		{author: "Grace Hopper", content: "A ship in port is safe.", datetime: "2025-11-07T10:10:00.000Z"},
		{author: "Edsger Dijkstra", content: "Simplicity is a great virtue.", datetime: "2025-11-07T10:05:00.000Z"},
	}}
}

type recordingObserver struct {
	mu      sync.Mutex
	results []int
	errs    []string
}

func (o *recordingObserver) OnResult(added int, posts []types.Post) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, added)
}

func (o *recordingObserver) OnError(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, msg)
}

func (o *recordingObserver) resultCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.results)
}

func (o *recordingObserver) lastAdded() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.results) == 0 {
		return -1
	}
	return o.results[len(o.results)-1]
}

// stack is the full monitor pipeline over a snapshot host, assembled the way
// the watch command assembles it.
type stack struct {
	cfg     *config.Config
	metrics *observability.Metrics
	store   *storage.RetentionStore
	host    *tabhost.SnapshotHost
	service *engine.Service
	session *monitor.Session
	obs     *recordingObserver
}

func newStack(t *testing.T, feedURL string, backend storage.StateStore) *stack {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Feed.URL = feedURL
	cfg.Feed.URLPrefixes = []string{feedURL}
	cfg.Poll.Period = time.Hour // cycles are driven explicitly in tests
	cfg.Poll.HostTimeout = 5 * time.Second
	cfg.Scroll.MaxAttempts = 2
	cfg.Scroll.StepDelay = 10 * time.Millisecond
	cfg.Host.Type = "snapshot"

	metrics := observability.NewMetrics(testLogger)
	if backend == nil {
		backend = storage.NewMemoryStore(testLogger)
	}
	store, err := storage.NewRetentionStore(backend, cfg.Retention.MaxPosts, testLogger)
	if err != nil {
		t.Fatalf("create retention store: %v", err)
	}

	host := tabhost.NewSnapshotHost(testLogger)
	t.Cleanup(func() { host.Close() })

	extractor := parser.NewExtractor(
		parser.ProfileFromConfig(cfg.Feed.Selectors),
		parser.DefaultFilterChain(testLogger),
		testLogger,
	)
	collector := engine.NewCollector(extractor, cfg.Scroll.TargetCount, cfg.Scroll.MaxAttempts, cfg.Scroll.StepDelay, testLogger)
	service := engine.NewService(collector, host, store, metrics, testLogger)

	session := monitor.NewSession(cfg, host, service, metrics, testLogger)
	obs := &recordingObserver{}
	session.SetObserver(obs)
	t.Cleanup(session.Stop)

	return &stack{cfg: cfg, metrics: metrics, store: store, host: host, service: service, session: session, obs: obs}
}

// TestSnapshotMonitorCycle drives a manual fetch and one full poll cycle
// against a live feed server: reload, load event, scrape, dedupe, merge.
func TestSnapshotMonitorCycle(t *testing.T) {
	feed := threeItemFeed()
	srv := httptest.NewServer(feed)
	defer srv.Close()

	st := newStack(t, srv.URL+"/home", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		st.session.Run(ctx)
		close(done)
	}()

	posts, added, err := st.session.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if len(posts) != 3 || added != 3 {
		t.Fatalf("expected 3 new posts, got %d posts, %d added", len(posts), added)
	}
	if st.session.State() != monitor.StatePolling {
		t.Errorf("expected polling after fetch, got %s", st.session.State())
	}
	window := st.store.Posts()
	if len(window) != 3 || window[0].Author != "Ada Lovelace" {
		t.Fatalf("expected newest-first window, got %+v", window)
	}

	// The feed moves on: one real post and one promoted item appear.
	feed.prepend(feedItem{author: "AdCo", content: "Buy more stuff", datetime: "2025-11-07T10:18:00.000Z", promoted: true})
	feed.prepend(feedItem{author: "Barbara Liskov", content: "Modularity is how we scale.", datetime: "2025-11-07T10:20:00.000Z"})

	st.session.HandleTimerFire(ctx)
	waitFor(t, func() bool { return st.obs.resultCount() == 2 }, "poll cycle did not complete")

	if got := st.obs.lastAdded(); got != 1 {
		t.Errorf("expected 1 novel post from the poll cycle, got %d", got)
	}
	if st.store.Len() != 4 {
		t.Errorf("expected 4 retained posts, got %d", st.store.Len())
	}
	if got := st.store.Posts()[0].Author; got != "Barbara Liskov" {
		t.Errorf("expected the new post on top, got %q", got)
	}
	if st.session.State() != monitor.StatePolling {
		t.Errorf("expected polling to continue, got %s", st.session.State())
	}

	snap := st.metrics.Snapshot()
	if snap["posts_filtered"] < 1 {
		t.Errorf("expected the promoted item filtered, got %d", snap["posts_filtered"])
	}
	if snap["reloads_total"] != 1 || snap["scrapes_total"] != 2 {
		t.Errorf("unexpected counters: %v", snap)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestBusAndAPIEndToEnd exercises the observer surface: an HTTP fetch
// request travels over the bus into the session and the reply carries the
// scrape result.
func TestBusAndAPIEndToEnd(t *testing.T) {
	feed := threeItemFeed()
	srv := httptest.NewServer(feed)
	defer srv.Close()

	st := newStack(t, srv.URL+"/home", nil)

	msgBus := bus.New(testLogger)
	msgBus.Handle(types.MsgFetchRequest, func(ctx context.Context, _ types.Message) (types.Message, error) {
		posts, added, err := st.session.Fetch(ctx)
		if err != nil {
			return types.NewFetchError(err), nil
		}
		return types.NewScrapeComplete(posts, added), nil
	})

	apiSrv := api.NewServer(0, testLogger)
	apiSrv.SetRequester(msgBus)
	apiSrv.SetPostSource(st.store)
	apiSrv.SetStatusProvider(st.session)
	apiSrv.SetMetrics(st.metrics)

	ts := httptest.NewServer(apiSrv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/fetch", "application/json", nil)
	if err != nil {
		t.Fatalf("fetch request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var reply types.Message
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Type != types.MsgScrapeComplete || reply.Added != 3 {
		t.Errorf("unexpected reply: type=%s added=%d", reply.Type, reply.Added)
	}

	resp, err = http.Get(ts.URL + "/api/posts")
	if err != nil {
		t.Fatalf("posts request: %v", err)
	}
	defer resp.Body.Close()
	var data types.Message
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("decode posts: %v", err)
	}
	if data.Type != types.MsgDataResponse || len(data.Payload) != 3 {
		t.Errorf("expected the retained window, got type=%s len=%d", data.Type, len(data.Payload))
	}

	resp, err = http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["state"] != "polling" || status["retained"] != float64(3) {
		t.Errorf("unexpected status: %v", status)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer resp.Body.Close()
	exposition, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(exposition), "feedstalk_scrapes_total 1") {
		t.Errorf("expected scrape counter in exposition, got:\n%s", exposition)
	}
}

// TestFileStatePersistsAcrossRestarts fetches into a file-backed store, then
// rebuilds the whole stack on the same state file and verifies dedup carries
// across the restart.
func TestFileStatePersistsAcrossRestarts(t *testing.T) {
	feed := threeItemFeed()
	srv := httptest.NewServer(feed)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "state.json")

	backendA, err := storage.NewFileStore(path, testLogger)
	if err != nil {
		t.Fatalf("create file store: %v", err)
	}
	stA := newStack(t, srv.URL+"/home", backendA)

	_, added, err := stA.session.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if added != 3 {
		t.Fatalf("expected 3 added on the first run, got %d", added)
	}
	stA.session.Stop()

	backendB, err := storage.NewFileStore(path, testLogger)
	if err != nil {
		t.Fatalf("reopen file store: %v", err)
	}
	stB := newStack(t, srv.URL+"/home", backendB)

	if stB.store.Len() != 3 {
		t.Fatalf("expected the window restored before any fetch, got %d", stB.store.Len())
	}

	_, added, err = stB.session.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if added != 0 {
		t.Errorf("expected everything deduplicated after restart, got %d added", added)
	}
	if stB.store.Len() != 3 {
		t.Errorf("expected the window unchanged, got %d", stB.store.Len())
	}
}
