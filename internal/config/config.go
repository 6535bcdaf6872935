package config

import (
	"strings"
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for FeedStalk.
type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"      yaml:"feed"`
	Poll      PollConfig      `mapstructure:"poll"      yaml:"poll"`
	Scroll    ScrollConfig    `mapstructure:"scroll"    yaml:"scroll"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Host      HostConfig      `mapstructure:"host"      yaml:"host"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// FeedConfig identifies the feed being monitored and how to read its markup.
type FeedConfig struct {
	URL         string          `mapstructure:"url"          yaml:"url"`
	URLPrefixes []string        `mapstructure:"url_prefixes" yaml:"url_prefixes"`
	Selectors   SelectorsConfig `mapstructure:"selectors"    yaml:"selectors"`
}

// Matches reports whether a tab URL still belongs to the monitored feed.
func (f *FeedConfig) Matches(rawURL string) bool {
	for _, prefix := range f.URLPrefixes {
		if prefix != "" && strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	return false
}

// SelectorsConfig profiles the feed markup so alternate layouts can be
// monitored without code changes.
type SelectorsConfig struct {
	Item    SelectorRule `mapstructure:"item"    yaml:"item"`
	Author  SelectorRule `mapstructure:"author"  yaml:"author"`
	Content SelectorRule `mapstructure:"content" yaml:"content"`
	Time    SelectorRule `mapstructure:"time"    yaml:"time"`
}

// SelectorRule locates one element relative to its parent scope.
type SelectorRule struct {
	Type     string `mapstructure:"type"     yaml:"type"` // css, xpath
	Selector string `mapstructure:"selector" yaml:"selector"`
}

// PollConfig controls the reload timer.
type PollConfig struct {
	Period      time.Duration `mapstructure:"period"       yaml:"period"`
	HostTimeout time.Duration `mapstructure:"host_timeout" yaml:"host_timeout"`
}

// ScrollConfig controls the scroll-and-collect loop inside one scrape.
type ScrollConfig struct {
	TargetCount int           `mapstructure:"target_count" yaml:"target_count"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	StepDelay   time.Duration `mapstructure:"step_delay"   yaml:"step_delay"`
}

// RetentionConfig bounds the stored post window.
type RetentionConfig struct {
	MaxPosts int `mapstructure:"max_posts" yaml:"max_posts"`
}

// HostConfig selects and tunes the tab host.
type HostConfig struct {
	Type       string        `mapstructure:"type"        yaml:"type"` // browser, snapshot
	ControlURL string        `mapstructure:"control_url" yaml:"control_url"`
	Headless   bool          `mapstructure:"headless"    yaml:"headless"`
	Stealth    bool          `mapstructure:"stealth"     yaml:"stealth"`
	LoadWait   time.Duration `mapstructure:"load_wait"   yaml:"load_wait"`
}

// StorageConfig selects the retention state backend.
type StorageConfig struct {
	Type  string      `mapstructure:"type"  yaml:"type"` // file, memory, mongodb
	Path  string      `mapstructure:"path"  yaml:"path"`
	Mongo MongoConfig `mapstructure:"mongo" yaml:"mongo"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// APIConfig controls the observer HTTP surface.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port"    yaml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL: "https://x.com/home",
			URLPrefixes: []string{
				"https://x.com/home",
				"https://twitter.com/home",
			},
			Selectors: SelectorsConfig{
				Item:    SelectorRule{Type: "css", Selector: `article[data-testid="tweet"]`},
				Author:  SelectorRule{Type: "css", Selector: `[data-testid="User-Name"] span`},
				Content: SelectorRule{Type: "css", Selector: `[data-testid="tweetText"]`},
				Time:    SelectorRule{Type: "css", Selector: `time`},
			},
		},
		Poll: PollConfig{
			Period:      10 * time.Second,
			HostTimeout: 30 * time.Second,
		},
		Scroll: ScrollConfig{
			TargetCount: 20,
			MaxAttempts: 10,
			StepDelay:   2 * time.Second,
		},
		Retention: RetentionConfig{
			MaxPosts: 20,
		},
		Host: HostConfig{
			Type:     "browser",
			Headless: true,
			Stealth:  false,
			LoadWait: 300 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type: "file",
			Path: ".feedstalk/state.json",
			Mongo: MongoConfig{
				Database:   "feedstalk",
				Collection: "state",
			},
		},
		API: APIConfig{
			Enabled: false,
			Port:    8787,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
