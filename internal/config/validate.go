package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url must not be empty")
	}
	if err := ValidateURL(cfg.Feed.URL); err != nil {
		return fmt.Errorf("feed.url: %w", err)
	}
	if len(cfg.Feed.URLPrefixes) == 0 {
		return fmt.Errorf("feed.url_prefixes must not be empty")
	}
	if !cfg.Feed.Matches(cfg.Feed.URL) {
		return fmt.Errorf("feed.url %q does not match any feed.url_prefixes entry", cfg.Feed.URL)
	}
	for _, rule := range []struct {
		name string
		rule SelectorRule
	}{
		{"feed.selectors.item", cfg.Feed.Selectors.Item},
		{"feed.selectors.author", cfg.Feed.Selectors.Author},
		{"feed.selectors.content", cfg.Feed.Selectors.Content},
		{"feed.selectors.time", cfg.Feed.Selectors.Time},
	} {
		if rule.rule.Selector == "" {
			return fmt.Errorf("%s.selector must not be empty", rule.name)
		}
		if rule.rule.Type != "css" && rule.rule.Type != "xpath" {
			return fmt.Errorf("%s.type must be 'css' or 'xpath', got %q", rule.name, rule.rule.Type)
		}
	}

	if cfg.Poll.Period <= 0 {
		return fmt.Errorf("poll.period must be > 0")
	}
	if cfg.Poll.HostTimeout <= 0 {
		return fmt.Errorf("poll.host_timeout must be > 0")
	}

	if cfg.Scroll.TargetCount < 1 {
		return fmt.Errorf("scroll.target_count must be >= 1, got %d", cfg.Scroll.TargetCount)
	}
	if cfg.Scroll.MaxAttempts < 1 {
		return fmt.Errorf("scroll.max_attempts must be >= 1, got %d", cfg.Scroll.MaxAttempts)
	}
	if cfg.Scroll.StepDelay < 0 {
		return fmt.Errorf("scroll.step_delay must be >= 0")
	}

	if cfg.Retention.MaxPosts < 1 {
		return fmt.Errorf("retention.max_posts must be >= 1, got %d", cfg.Retention.MaxPosts)
	}

	if cfg.Host.Type != "browser" && cfg.Host.Type != "snapshot" {
		return fmt.Errorf("host.type must be 'browser' or 'snapshot', got %q", cfg.Host.Type)
	}
	if cfg.Host.LoadWait < 0 {
		return fmt.Errorf("host.load_wait must be >= 0")
	}

	validStorageTypes := map[string]bool{
		"file": true, "memory": true, "mongodb": true,
	}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: file, memory, mongodb)", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "file" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty for the file backend")
	}
	if cfg.Storage.Type == "mongodb" {
		if cfg.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri must not be empty for the mongodb backend")
		}
		if cfg.Storage.Mongo.Database == "" || cfg.Storage.Mongo.Collection == "" {
			return fmt.Errorf("storage.mongo.database and storage.mongo.collection must not be empty")
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Port < 1 || cfg.API.Port > 65535 {
			return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}

// ValidateURL checks if a URL string is usable as a feed address.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
