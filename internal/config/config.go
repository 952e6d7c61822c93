// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package config loads the application configuration with Koanf v2
// using layered sources: built-in defaults, an optional YAML file,
// then environment variables. Precedence is ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/civicstream/feedengine/internal/affinity"
	"github.com/civicstream/feedengine/internal/api"
	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/ingest"
	"github.com/civicstream/feedengine/internal/logging"
	"github.com/civicstream/feedengine/internal/similarity"
	"github.com/civicstream/feedengine/internal/store"
	"github.com/civicstream/feedengine/internal/trending"
	"github.com/civicstream/feedengine/internal/upstream"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/feedengine/config.yaml",
	"/etc/feedengine/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// LoggingConfig mirrors logging.Config with koanf tags; the Output
// writer is not configurable from files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ToLogging converts to the logging package's Config.
func (c LoggingConfig) ToLogging() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format, Caller: c.Caller}
}

// AffinityStoreConfig selects the affinity persistence backend.
type AffinityStoreConfig struct {
	// Backend is "badger" or "memory". Memory is for development and
	// tests only: affinities are lost on restart.
	Backend string `koanf:"backend" validate:"oneof=badger memory"`

	// Path is the Badger data directory.
	Path string `koanf:"path"`
}

// Config is the root application configuration.
type Config struct {
	Server        api.ServerConfig    `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Database      store.Config        `koanf:"database"`
	AffinityStore AffinityStoreConfig `koanf:"affinity_store"`
	Affinity      affinity.Config     `koanf:"affinity"`
	Similarity    similarity.Config   `koanf:"similarity"`
	Trending      trending.Config     `koanf:"trending"`
	Feed          feed.Config         `koanf:"feed"`
	Ingest        ingest.Config       `koanf:"ingest"`
	NATS          ingest.NATSConfig   `koanf:"nats"`
	Upstream      upstream.Config     `koanf:"upstream"`
}

// defaultConfig returns the built-in defaults, layered under file and
// environment overrides.
func defaultConfig() *Config {
	return &Config{
		Server: api.DefaultServerConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: store.DefaultConfig(),
		AffinityStore: AffinityStoreConfig{
			Backend: "badger",
			Path:    "data/affinity",
		},
		Affinity:   affinity.DefaultConfig(),
		Similarity: similarity.DefaultConfig(),
		Trending:   trending.DefaultConfig(),
		Feed:       feed.DefaultConfig(),
		Ingest:     ingest.DefaultConfig(),
		NATS:       ingest.DefaultNATSConfig(),
		Upstream:   upstream.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints and per-section invariants.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := v.Struct(c.AffinityStore); err != nil {
		return fmt.Errorf("affinity_store: %w", err)
	}
	if c.AffinityStore.Backend == "badger" && c.AffinityStore.Path == "" {
		return fmt.Errorf("affinity_store.path required for badger backend")
	}
	// An empty upstream base URL selects the in-memory fixture; a
	// non-empty one must be a valid URL.
	if c.Upstream.BaseURL != "" {
		if err := v.Var(c.Upstream.BaseURL, "url"); err != nil {
			return fmt.Errorf("upstream.base_url: %w", err)
		}
	}

	if err := c.Affinity.Validate(); err != nil {
		return fmt.Errorf("affinity: %w", err)
	}
	if err := c.Similarity.Validate(); err != nil {
		return fmt.Errorf("similarity: %w", err)
	}
	if err := c.Trending.Validate(); err != nil {
		return fmt.Errorf("trending: %w", err)
	}
	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf paths.
// Unmapped variables are skipped so unrelated environment noise never
// leaks into the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_addr":             "server.listen_addr",
		"http_read_timeout":     "server.read_timeout",
		"http_write_timeout":    "server.write_timeout",
		"http_shutdown_timeout": "server.shutdown_timeout",
		"feed_rate_limit":       "server.router.feed_rate_limit",
		"track_rate_limit":      "server.router.track_rate_limit",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Interaction log (DuckDB)
		"duckdb_path":       "database.path",
		"duckdb_threads":    "database.threads",
		"duckdb_max_memory": "database.max_memory",

		// Affinity store (Badger)
		"affinity_backend": "affinity_store.backend",
		"affinity_path":    "affinity_store.path",

		// Affinity dynamics
		"affinity_decay_per_week": "affinity.decay_per_week",
		"affinity_min":            "affinity.min_affinity",
		"affinity_profile_ttl":    "affinity.profile_ttl",
		"affinity_top_tags":       "affinity.top_tags",

		// Similarity
		"similarity_min_shared_tags":  "similarity.min_shared_tags",
		"similarity_threshold":        "similarity.threshold",
		"similarity_max_neighbors":    "similarity.max_neighbors",
		"similarity_refresh_interval": "similarity.refresh_interval",

		// Trending
		"trending_window":           "trending.window",
		"trending_refresh_interval": "trending.refresh_interval",
		"trending_min_interactions": "trending.min_interactions",
		"trending_min_unique_users": "trending.min_unique_users",
		"trending_max_items":        "trending.max_items",

		// Feed engine
		"feed_max_size":          "feed.max_feed_size",
		"feed_default_page_size": "feed.default_page_size",
		"feed_max_page_size":     "feed.max_page_size",
		"feed_cache_ttl":         "feed.cache_ttl",
		"feed_generator_timeout": "feed.generator_timeout",

		// Ingest router
		"ingest_close_timeout": "ingest.close_timeout",
		"ingest_retry_max":     "ingest.retry_max_retries",
		"ingest_buffer":        "ingest.output_buffer",

		// NATS source
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_topic":          "nats.topic",
		"nats_queue_group":    "nats.queue_group",
		"nats_durable_name":   "nats.durable_name",
		"nats_ack_wait":       "nats.ack_wait_timeout",
		"nats_reconnects":     "nats.max_reconnects",
		"nats_reconnect_wait": "nats.reconnect_wait",

		// Upstream content service
		"upstream_base_url":          "upstream.base_url",
		"upstream_timeout":           "upstream.timeout",
		"upstream_retry_count":       "upstream.retry_count",
		"upstream_breaker_threshold": "upstream.breaker_failure_threshold",
		"upstream_breaker_timeout":   "upstream.breaker_timeout",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
