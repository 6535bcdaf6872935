package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for the feed monitor.
type Metrics struct {
	// Fetch metrics
	FetchesTotal atomic.Int64
	FetchErrors  atomic.Int64

	// Scrape metrics
	ScrapesTotal atomic.Int64
	ScrapeErrors atomic.Int64
	ScrollSteps  atomic.Int64

	// Post metrics
	PostsCollected atomic.Int64
	PostsFiltered  atomic.Int64
	PostsMerged    atomic.Int64

	// Poll metrics
	TimerFires   atomic.Int64
	ReloadsTotal atomic.Int64
	ReloadErrors atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"feedstalk_fetches_total", "Total fetch requests handled", m.FetchesTotal.Load()},
		{"feedstalk_fetch_errors_total", "Total fetch requests that failed", m.FetchErrors.Load()},
		{"feedstalk_scrapes_total", "Total scrapes executed", m.ScrapesTotal.Load()},
		{"feedstalk_scrape_errors_total", "Total scrapes that failed", m.ScrapeErrors.Load()},
		{"feedstalk_scroll_steps_total", "Total scroll-and-collect steps", m.ScrollSteps.Load()},
		{"feedstalk_posts_collected_total", "Total posts collected from snapshots", m.PostsCollected.Load()},
		{"feedstalk_posts_filtered_total", "Total sponsored items excluded", m.PostsFiltered.Load()},
		{"feedstalk_posts_merged_total", "Total novel posts merged into retention", m.PostsMerged.Load()},
		{"feedstalk_timer_fires_total", "Total poll timer fires", m.TimerFires.Load()},
		{"feedstalk_reloads_total", "Total tab reloads issued", m.ReloadsTotal.Load()},
		{"feedstalk_reload_errors_total", "Total tab reloads that failed", m.ReloadErrors.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// Snapshot returns all counters as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"fetches_total":   m.FetchesTotal.Load(),
		"fetch_errors":    m.FetchErrors.Load(),
		"scrapes_total":   m.ScrapesTotal.Load(),
		"scrape_errors":   m.ScrapeErrors.Load(),
		"scroll_steps":    m.ScrollSteps.Load(),
		"posts_collected": m.PostsCollected.Load(),
		"posts_filtered":  m.PostsFiltered.Load(),
		"posts_merged":    m.PostsMerged.Load(),
		"timer_fires":     m.TimerFires.Load(),
		"reloads_total":   m.ReloadsTotal.Load(),
		"reload_errors":   m.ReloadErrors.Load(),
	}
}
