package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

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

var (
	cfgFile     string
	verbose     bool
	feedURL     string
	pollPeriod  string
	targetCount int
	maxAttempts int
	hostType    string
	controlURL  string
	headful     bool
	stealthMode bool
	storageType string
	storePath   string
	outputPath  string
	outputType  string
	apiEnabled  bool
	apiPort     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedstalk",
		Short: "FeedStalk — Social Feed Monitor",
		Long: `FeedStalk watches a social-media feed tab and keeps a deduplicated window
of the newest posts.

Features:
  • Browser-tab monitoring over DevTools (go-rod), with optional stealth mode
  • Static snapshot mode for headless environments and CI
  • Incremental scroll collection with ad/promotion filtering
  • Stable post identity and dedup across overlapping reads
  • Bounded newest-first retention window, persisted across runs
  • File, in-memory, or MongoDB state backends
  • JSON, JSONL, CSV export
  • REST observer API and Prometheus metrics endpoint`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(postsCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// watchCmd creates the "watch" subcommand.
func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor the feed continuously",
		Long:  "Open (or reuse) the feed tab, scrape it, and keep polling on a timer until interrupted.",
		RunE:  runWatch,
	}

	addFeedFlags(cmd)
	cmd.Flags().StringVar(&pollPeriod, "poll", "", "poll period between reloads (e.g. 10s)")
	cmd.Flags().BoolVar(&apiEnabled, "api", false, "serve the observer REST API")
	cmd.Flags().IntVar(&apiPort, "api-port", 0, "observer API port")

	return cmd
}

// fetchCmd creates the "fetch" subcommand.
func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run a single scrape cycle",
		Long:  "Resolve the feed tab, scrape it once, merge into the retained window, and exit.",
		RunE:  runFetch,
	}

	addFeedFlags(cmd)
	return cmd
}

// postsCmd creates the "posts" subcommand.
func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Print the retained posts",
		RunE:  runPosts,
	}

	cmd.Flags().StringVarP(&outputType, "format", "f", "json", "output format: json, jsonl, csv")
	cmd.Flags().StringVarP(&outputPath, "out", "o", "", "write to file instead of stdout")
	cmd.Flags().StringVar(&storageType, "storage", "", "state backend: file, memory, mongodb")
	cmd.Flags().StringVar(&storePath, "store-path", "", "state file path for the file backend")

	return cmd
}

// resetCmd creates the "reset" subcommand.
func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the retained state",
		RunE:  runReset,
	}

	cmd.Flags().StringVar(&storageType, "storage", "", "state backend: file, memory, mongodb")
	cmd.Flags().StringVar(&storePath, "store-path", "", "state file path for the file backend")

	return cmd
}

// addFeedFlags registers the flags shared by watch and fetch.
func addFeedFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&feedURL, "url", "u", "", "feed URL to monitor")
	cmd.Flags().IntVarP(&targetCount, "target", "t", 0, "minimum posts to collect per scrape")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "maximum scroll attempts per scrape")
	cmd.Flags().StringVar(&hostType, "host", "", "tab host: browser, snapshot")
	cmd.Flags().StringVar(&controlURL, "control-url", "", "DevTools websocket URL of a running browser")
	cmd.Flags().BoolVar(&headful, "headful", false, "run the browser with a visible window")
	cmd.Flags().BoolVar(&stealthMode, "stealth", false, "apply bot-detection evasion to new pages")
	cmd.Flags().StringVar(&storageType, "storage", "", "state backend: file, memory, mongodb")
	cmd.Flags().StringVar(&storePath, "store-path", "", "state file path for the file backend")
}

// runWatch executes the watch command.
func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	logger.Info("starting feed monitor",
		"feed", cfg.Feed.URL,
		"host", cfg.Host.Type,
		"poll", cfg.Poll.Period,
		"storage", cfg.Storage.Type,
	)

	metrics := observability.NewMetrics(logger)

	// Setup storage
	backend, err := storage.NewStateStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer backend.Close()

	store, err := storage.NewRetentionStore(backend, cfg.Retention.MaxPosts, logger)
	if err != nil {
		return fmt.Errorf("open retention store: %w", err)
	}

	// Setup tab host
	host, err := tabhost.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create tab host: %w", err)
	}
	defer host.Close()

	// Setup scrape pipeline
	extractor := parser.NewExtractor(parser.ProfileFromConfig(cfg.Feed.Selectors), parser.DefaultFilterChain(logger), logger)
	collector := engine.NewCollector(extractor, cfg.Scroll.TargetCount, cfg.Scroll.MaxAttempts, cfg.Scroll.StepDelay, logger)
	service := engine.NewService(collector, host, store, metrics, logger)

	// Setup monitor session
	session := monitor.NewSession(cfg, host, service, metrics, logger)
	session.SetObserver(&consoleObserver{logger: logger})

	// Setup message bus
	msgBus := bus.New(logger)
	msgBus.Handle(types.MsgFetchRequest, func(ctx context.Context, _ types.Message) (types.Message, error) {
		posts, added, err := session.Fetch(ctx)
		if err != nil {
			return types.NewFetchError(err), nil
		}
		return types.NewScrapeComplete(posts, added), nil
	})
	msgBus.Handle(types.MsgExecuteScrape, func(ctx context.Context, msg types.Message) (types.Message, error) {
		posts, added, err := service.Execute(ctx, msg.TabID)
		if err != nil {
			return types.NewScrapeError(err), nil
		}
		return types.NewScrapeComplete(posts, added), nil
	})
	store.Subscribe(func(u storage.Update) {
		msgBus.Publish(types.NewDataResponse(store.State(), u.Added))
	})

	// Setup observer API (if enabled)
	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API.Port, logger)
		srv.SetRequester(msgBus)
		srv.SetPostSource(store)
		srv.SetStatusProvider(session)
		srv.SetMetrics(metrics)
		if err := srv.Start(); err != nil {
			logger.Warn("failed to start API server", "error", err)
		}
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", "signal", sig)
		cancel()
	}()

	// Initial fetch, then poll until interrupted
	start := time.Now()
	if _, added, err := session.Fetch(ctx); err != nil {
		if !cfg.API.Enabled {
			return fmt.Errorf("initial fetch: %w", err)
		}
		logger.Warn("initial fetch failed, waiting for a fetch request via API", "error", err)
	} else {
		logger.Info("initial fetch complete", "added", added)
	}

	session.Run(ctx)

	elapsed := time.Since(start)
	stats := metrics.Snapshot()

	fmt.Printf("\n✅ Monitoring stopped after %s\n", elapsed.Round(time.Second))
	fmt.Printf("   Fetches:   %v sent, %v failed\n", stats["fetches_total"], stats["fetch_errors"])
	fmt.Printf("   Scrapes:   %v run, %v failed\n", stats["scrapes_total"], stats["scrape_errors"])
	fmt.Printf("   Reloads:   %v issued, %v failed\n", stats["reloads_total"], stats["reload_errors"])
	fmt.Printf("   Posts:     %v collected, %v merged, %v filtered as ads\n",
		stats["posts_collected"], stats["posts_merged"], stats["posts_filtered"])
	fmt.Printf("   Retained:  %d\n", store.Len())

	return nil
}

// runFetch executes the fetch command.
func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	metrics := observability.NewMetrics(logger)

	backend, err := storage.NewStateStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer backend.Close()

	store, err := storage.NewRetentionStore(backend, cfg.Retention.MaxPosts, logger)
	if err != nil {
		return fmt.Errorf("open retention store: %w", err)
	}

	host, err := tabhost.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create tab host: %w", err)
	}
	defer host.Close()

	extractor := parser.NewExtractor(parser.ProfileFromConfig(cfg.Feed.Selectors), parser.DefaultFilterChain(logger), logger)
	collector := engine.NewCollector(extractor, cfg.Scroll.TargetCount, cfg.Scroll.MaxAttempts, cfg.Scroll.StepDelay, logger)
	service := engine.NewService(collector, host, store, metrics, logger)
	session := monitor.NewSession(cfg, host, service, metrics, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	posts, added, err := session.Fetch(ctx)
	session.Stop()
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	fmt.Printf("\n✅ Scraped %d post(s), %d new\n", len(posts), added)
	for _, p := range posts {
		fmt.Printf("   %s  %-24s %s\n", p.DisplayTime, p.Author, truncate(p.Content, 60))
	}
	fmt.Printf("   Retained: %d\n", store.Len())

	return nil
}

// runPosts executes the posts command.
func runPosts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	logger := setupLogger(cfg.Logging)

	backend, err := storage.NewStateStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer backend.Close()

	store, err := storage.NewRetentionStore(backend, cfg.Retention.MaxPosts, logger)
	if err != nil {
		return fmt.Errorf("open retention store: %w", err)
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := storage.ExportPosts(out, store.Posts(), outputType); err != nil {
		return fmt.Errorf("export posts: %w", err)
	}
	if outputPath != "" {
		fmt.Printf("✅ Wrote %d post(s) to %s\n", store.Len(), outputPath)
	}

	return nil
}

// runReset executes the reset command.
func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	logger := setupLogger(cfg.Logging)

	backend, err := storage.NewStateStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer backend.Close()

	store, err := storage.NewRetentionStore(backend, cfg.Retention.MaxPosts, logger)
	if err != nil {
		return fmt.Errorf("open retention store: %w", err)
	}
	if err := store.Reset(); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}

	fmt.Println("✅ Retained state cleared")
	return nil
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Feed:\n")
			fmt.Printf("  URL:              %s\n", cfg.Feed.URL)
			fmt.Printf("  URL Prefixes:     %d configured\n", len(cfg.Feed.URLPrefixes))
			fmt.Printf("\nPoll:\n")
			fmt.Printf("  Period:           %s\n", cfg.Poll.Period)
			fmt.Printf("  Host Timeout:     %s\n", cfg.Poll.HostTimeout)
			fmt.Printf("\nScroll:\n")
			fmt.Printf("  Target Count:     %d\n", cfg.Scroll.TargetCount)
			fmt.Printf("  Max Attempts:     %d\n", cfg.Scroll.MaxAttempts)
			fmt.Printf("  Step Delay:       %s\n", cfg.Scroll.StepDelay)
			fmt.Printf("\nRetention:\n")
			fmt.Printf("  Max Posts:        %d\n", cfg.Retention.MaxPosts)
			fmt.Printf("\nHost:\n")
			fmt.Printf("  Type:             %s\n", cfg.Host.Type)
			fmt.Printf("  Headless:         %v\n", cfg.Host.Headless)
			fmt.Printf("  Stealth:          %v\n", cfg.Host.Stealth)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:             %s\n", cfg.Storage.Type)
			fmt.Printf("  Path:             %s\n", cfg.Storage.Path)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Enabled:          %v\n", cfg.API.Enabled)
			fmt.Printf("  Port:             %d\n", cfg.API.Port)
			return nil
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FeedStalk %s\n", config.Version)
		},
	}
}

// consoleObserver prints scrape outcomes for interactive watch runs.
type consoleObserver struct {
	logger *slog.Logger
}

func (o *consoleObserver) OnResult(added int, posts []types.Post) {
	if added == 0 {
		o.logger.Info("feed checked, nothing new", "collected", len(posts))
		return
	}
	fmt.Printf("🔔 %d new post(s)\n", added)
}

func (o *consoleObserver) OnError(msg string) {
	o.logger.Error("monitor error", "error", msg)
}

// setupLogger creates a structured logger from the logging config.
// --verbose forces debug regardless of the configured level.
func setupLogger(lc config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	out := os.Stderr
	if lc.Output == "stdout" {
		out = os.Stdout
	}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if feedURL != "" {
		cfg.Feed.URL = feedURL
		cfg.Feed.URLPrefixes = []string{feedURL}
	}
	if pollPeriod != "" {
		if d, err := time.ParseDuration(pollPeriod); err == nil {
			cfg.Poll.Period = d
		}
	}
	if targetCount > 0 {
		cfg.Scroll.TargetCount = targetCount
	}
	if maxAttempts > 0 {
		cfg.Scroll.MaxAttempts = maxAttempts
	}
	if hostType != "" {
		cfg.Host.Type = hostType
	}
	if controlURL != "" {
		cfg.Host.ControlURL = controlURL
	}
	if headful {
		cfg.Host.Headless = false
	}
	if stealthMode {
		cfg.Host.Stealth = true
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}
	if storePath != "" {
		cfg.Storage.Path = storePath
	}
	if apiEnabled {
		cfg.API.Enabled = true
	}
	if apiPort > 0 {
		cfg.API.Port = apiPort
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
