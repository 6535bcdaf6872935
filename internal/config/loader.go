package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("FEEDSTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("feedstalk")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".feedstalk"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("feed.url", cfg.Feed.URL)
	v.SetDefault("feed.url_prefixes", cfg.Feed.URLPrefixes)
	v.SetDefault("feed.selectors.item.type", cfg.Feed.Selectors.Item.Type)
	v.SetDefault("feed.selectors.item.selector", cfg.Feed.Selectors.Item.Selector)
	v.SetDefault("feed.selectors.author.type", cfg.Feed.Selectors.Author.Type)
	v.SetDefault("feed.selectors.author.selector", cfg.Feed.Selectors.Author.Selector)
	v.SetDefault("feed.selectors.content.type", cfg.Feed.Selectors.Content.Type)
	v.SetDefault("feed.selectors.content.selector", cfg.Feed.Selectors.Content.Selector)
	v.SetDefault("feed.selectors.time.type", cfg.Feed.Selectors.Time.Type)
	v.SetDefault("feed.selectors.time.selector", cfg.Feed.Selectors.Time.Selector)

	v.SetDefault("poll.period", cfg.Poll.Period)
	v.SetDefault("poll.host_timeout", cfg.Poll.HostTimeout)

	v.SetDefault("scroll.target_count", cfg.Scroll.TargetCount)
	v.SetDefault("scroll.max_attempts", cfg.Scroll.MaxAttempts)
	v.SetDefault("scroll.step_delay", cfg.Scroll.StepDelay)

	v.SetDefault("retention.max_posts", cfg.Retention.MaxPosts)

	v.SetDefault("host.type", cfg.Host.Type)
	v.SetDefault("host.control_url", cfg.Host.ControlURL)
	v.SetDefault("host.headless", cfg.Host.Headless)
	v.SetDefault("host.stealth", cfg.Host.Stealth)
	v.SetDefault("host.load_wait", cfg.Host.LoadWait)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.mongo.uri", cfg.Storage.Mongo.URI)
	v.SetDefault("storage.mongo.database", cfg.Storage.Mongo.Database)
	v.SetDefault("storage.mongo.collection", cfg.Storage.Mongo.Collection)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.port", cfg.API.Port)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
}
