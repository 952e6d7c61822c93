// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package feed

import (
	"fmt"
	"time"
)

// ScoreWeights are the relative weights of the final ranking factors.
// They are normalized before use, so only ratios matter.
type ScoreWeights struct {
	Relevance   float64 `koanf:"relevance" json:"relevance"`
	Diversity   float64 `koanf:"diversity" json:"diversity"`
	Trendiness  float64 `koanf:"trendiness" json:"trendiness"`
	Location    float64 `koanf:"location" json:"location"`
	Temporal    float64 `koanf:"temporal" json:"temporal"`
	SocialProof float64 `koanf:"social_proof" json:"social_proof"`
	Quality     float64 `koanf:"quality" json:"quality"`
}

// DefaultScoreWeights returns the standard factor weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Relevance:   0.40,
		Diversity:   0.15,
		Trendiness:  0.10,
		Location:    0.10,
		Temporal:    0.10,
		SocialProof: 0.10,
		Quality:     0.05,
	}
}

// Normalize returns weights scaled to sum 1. Zero weights pass through
// unchanged to avoid division by zero.
func (w ScoreWeights) Normalize() ScoreWeights {
	sum := w.Relevance + w.Diversity + w.Trendiness + w.Location + w.Temporal + w.SocialProof + w.Quality
	if sum <= 0 {
		return w
	}
	return ScoreWeights{
		Relevance:   w.Relevance / sum,
		Diversity:   w.Diversity / sum,
		Trendiness:  w.Trendiness / sum,
		Location:    w.Location / sum,
		Temporal:    w.Temporal / sum,
		SocialProof: w.SocialProof / sum,
		Quality:     w.Quality / sum,
	}
}

// DiversityCaps are the hard per-page caps applied after ranking.
type DiversityCaps struct {
	// ContentTypeShare caps any single content type at ceil(N/share).
	ContentTypeShare int `koanf:"content_type_share" json:"content_type_share"`

	// SourceShare caps any single generator at ceil(N/share).
	SourceShare int `koanf:"source_share" json:"source_share"`

	// MaxPerOrganization caps items per organization per page.
	MaxPerOrganization int `koanf:"max_per_organization" json:"max_per_organization"`
}

// DefaultDiversityCaps returns the standard caps.
func DefaultDiversityCaps() DiversityCaps {
	return DiversityCaps{
		ContentTypeShare:   3,
		SourceShare:        5,
		MaxPerOrganization: 2,
	}
}

// Config holds the feed engine's runtime configuration. Every knob is
// loadable from the application config without redeploy.
type Config struct {
	// MaxFeedSize bounds the cached ranked list per user.
	MaxFeedSize int `koanf:"max_feed_size" json:"max_feed_size"`

	// DefaultPageSize is the page size when the request omits one.
	DefaultPageSize int `koanf:"default_page_size" json:"default_page_size"`

	// MaxPageSize bounds the requested page size.
	MaxPageSize int `koanf:"max_page_size" json:"max_page_size"`

	// CacheTTL is the lifetime of a cached ranked feed.
	CacheTTL time.Duration `koanf:"cache_ttl" json:"cache_ttl"`

	// GeneratorTimeout bounds each generator's runtime per request.
	GeneratorTimeout time.Duration `koanf:"generator_timeout" json:"generator_timeout"`

	// RecomputeRatePerMinute throttles async per-user recomputation
	// triggered by significant interactions.
	RecomputeRatePerMinute float64 `koanf:"recompute_rate_per_minute" json:"recompute_rate_per_minute"`

	Weights ScoreWeights  `koanf:"weights" json:"weights"`
	Caps    DiversityCaps `koanf:"caps" json:"caps"`

	// TemporalWindowStart and TemporalWindowEnd bound the upcoming-
	// event boost (events starting between Now+start and Now+end).
	TemporalWindowStart time.Duration `koanf:"temporal_window_start" json:"temporal_window_start"`
	TemporalWindowEnd   time.Duration `koanf:"temporal_window_end" json:"temporal_window_end"`
}

// DefaultConfig returns production defaults for the engine.
func DefaultConfig() Config {
	return Config{
		MaxFeedSize:            50,
		DefaultPageSize:        20,
		MaxPageSize:            100,
		CacheTTL:               time.Hour,
		GeneratorTimeout:       2 * time.Second,
		RecomputeRatePerMinute: 2,
		Weights:                DefaultScoreWeights(),
		Caps:                   DefaultDiversityCaps(),
		TemporalWindowStart:    24 * time.Hour,
		TemporalWindowEnd:      72 * time.Hour,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.MaxFeedSize <= 0 {
		return fmt.Errorf("max_feed_size must be positive, got %d", c.MaxFeedSize)
	}
	if c.DefaultPageSize <= 0 || c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("default_page_size %d out of range (1..%d)", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.GeneratorTimeout <= 0 {
		return fmt.Errorf("generator_timeout must be positive, got %s", c.GeneratorTimeout)
	}
	if c.Caps.ContentTypeShare <= 0 || c.Caps.SourceShare <= 0 || c.Caps.MaxPerOrganization <= 0 {
		return fmt.Errorf("diversity caps must be positive: %+v", c.Caps)
	}
	if c.TemporalWindowEnd <= c.TemporalWindowStart {
		return fmt.Errorf("temporal window end %s must exceed start %s", c.TemporalWindowEnd, c.TemporalWindowStart)
	}
	return nil
}
