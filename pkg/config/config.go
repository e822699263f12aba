// Package config loads the hn-server configuration.
//
// Configuration comes from an optional YAML file layered over Default().
// A small set of environment variables is applied last so that secrets
// (the summarizer key, the Redis URL) never have to live in the file:
//
//	HN_API_URL       client.base_url
//	REDIS_URL        client.redis_url
//	HN_DB_PATH       store.path
//	HN_ADDR          server.addr
//	HN_LOG_LEVEL     log.level
//	OPENAI_API_KEY   summarize.api_key
//	HN_AI_BASE_URL   summarize.base_url
//	HN_AI_MODEL      summarize.model
//	HN_AI_LANGUAGE   summarize.language
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hneveryday/hn-client/pkg/article"
	"github.com/hneveryday/hn-client/pkg/batch"
	"github.com/hneveryday/hn-client/pkg/client"
	"github.com/hneveryday/hn-client/pkg/feed"
	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/hneveryday/hn-client/pkg/logging"
	"github.com/hneveryday/hn-client/pkg/store"
	"github.com/hneveryday/hn-client/pkg/summarize"
	"github.com/hneveryday/hn-client/pkg/tree"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration.
type Config struct {
	Client    ClientConfig     `yaml:"client"`
	Batch     batch.Config     `yaml:"batch"`
	Tree      tree.Config      `yaml:"tree"`
	Feed      feed.Config      `yaml:"feed"`
	Store     StoreConfig      `yaml:"store"`
	Summarize summarize.Config `yaml:"summarize"`
	Article   article.Config   `yaml:"article"`
	Server    ServerConfig     `yaml:"server"`
	Log       logging.Config   `yaml:"log"`
}

// ClientConfig configures the item API client.
type ClientConfig struct {
	// BaseURL of the item API.
	// Default: https://hacker-news.firebaseio.com/v0
	BaseURL string `yaml:"base_url"`

	// RedisURL enables the response cache and shared back-off state,
	// e.g. redis://localhost:6379/0. Empty disables both.
	RedisURL string `yaml:"redis_url"`

	// UserAgent sent with every request.
	UserAgent string `yaml:"user_agent"`

	// Timeout of a single HTTP round trip.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	ItemCacheTTL    time.Duration `yaml:"item_cache_ttl"`
	ListingCacheTTL time.Duration `yaml:"listing_cache_ttl"`

	// MaxRetries is the total number of attempts per request.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path of the database file.
	// Default: hn.db
	Path string `yaml:"path"`

	// RetentionDays evicts unsaved stories not opened for this long.
	// Default: 30
	RetentionDays int `yaml:"retention_days"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr to listen on.
	// Default: :8080
	Addr string `yaml:"addr"`

	// PublicURL is used for links in RSS output.
	PublicURL string `yaml:"public_url"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL:         client.DefaultBaseURL,
			UserAgent:       "hn-client/1.0 (+https://github.com/hneveryday/hn-client)",
			Timeout:         30 * time.Second,
			ItemCacheTTL:    5 * time.Minute,
			ListingCacheTTL: 30 * time.Second,
			MaxRetries:      3,
		},
		Batch:     batch.DefaultConfig(),
		Tree:      tree.DefaultConfig(),
		Feed:      feed.DefaultConfig(),
		Store:     StoreConfig{Path: "hn.db", RetentionDays: store.DefaultRetentionDays},
		Summarize: summarize.DefaultConfig(),
		Article:   article.Config{Timeout: article.DefaultTimeout},
		Server: ServerConfig{
			Addr:            ":8080",
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path over Default() and applies environment overrides.
// An empty path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"HN_API_URL":     &c.Client.BaseURL,
		"REDIS_URL":      &c.Client.RedisURL,
		"HN_DB_PATH":     &c.Store.Path,
		"HN_ADDR":        &c.Server.Addr,
		"OPENAI_API_KEY": &c.Summarize.APIKey,
		"HN_AI_BASE_URL": &c.Summarize.BaseURL,
		"HN_AI_MODEL":    &c.Summarize.Model,
		"HN_AI_LANGUAGE": &c.Summarize.Language,
	}
	for name, field := range overrides {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup("HN_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = logging.LogLevel(v)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Client.BaseURL == "" {
		errs = append(errs, errors.New("client.base_url is required"))
	}
	if c.Client.UserAgent == "" {
		errs = append(errs, errors.New("client.user_agent is required"))
	}
	if c.Client.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("client.max_retries must be >= 1, got %d", c.Client.MaxRetries))
	}
	if c.Batch.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("batch.max_in_flight must be >= 0, got %d", c.Batch.MaxInFlight))
	}
	if c.Tree.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("tree.max_depth must be >= 1, got %d", c.Tree.MaxDepth))
	}
	if c.Feed.PageSize < 1 {
		errs = append(errs, fmt.Errorf("feed.page_size must be >= 1, got %d", c.Feed.PageSize))
	}
	if _, err := item.ParseCategory(string(c.Feed.Category)); err != nil {
		errs = append(errs, fmt.Errorf("feed.category: %w", err))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Store.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("store.retention_days must be >= 0, got %d", c.Store.RetentionDays))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := logging.ParseLevel(string(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
