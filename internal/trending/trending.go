// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package trending computes windowed trending scores over the
// interaction log. Snapshots are rebuilt wholesale on a short interval
// and swapped atomically; a failed recompute keeps the previous
// snapshot serveable.
package trending

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/metrics"
)

// Score component weights. Velocity dominates: trending is about
// acceleration, not lifetime popularity.
const (
	weightVelocity      = 0.4
	weightQuality       = 0.3
	weightUserDiversity = 0.2
	weightTypeDiversity = 0.1

	// knownInteractionTypes normalizes interaction-type diversity.
	knownInteractionTypes = 11.0
)

// Config controls the trending computation.
type Config struct {
	// Window is the sliding interaction window (1h, 6h, 24h, 7d).
	Window time.Duration `koanf:"window"`

	// RefreshInterval is the recompute cadence.
	RefreshInterval time.Duration `koanf:"refresh_interval"`

	// MinInteractions and MinUniqueUsers gate eligibility so tiny
	// samples cannot trend.
	MinInteractions int `koanf:"min_interactions"`
	MinUniqueUsers  int `koanf:"min_unique_users"`

	// MaxItems caps the snapshot size.
	MaxItems int `koanf:"max_items"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Window:          24 * time.Hour,
		RefreshInterval: 5 * time.Minute,
		MinInteractions: 5,
		MinUniqueUsers:  3,
		MaxItems:        200,
	}
}

// Validate checks configuration bounds.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive, got %s", c.RefreshInterval)
	}
	if c.MinInteractions < 1 {
		return fmt.Errorf("min_interactions must be >= 1, got %d", c.MinInteractions)
	}
	if c.MinUniqueUsers < 1 {
		return fmt.Errorf("min_unique_users must be >= 1, got %d", c.MinUniqueUsers)
	}
	if c.MaxItems < 1 {
		return fmt.Errorf("max_items must be >= 1, got %d", c.MaxItems)
	}
	return nil
}

// snapshot is an immutable trending result.
type snapshot struct {
	items   []feed.TrendingItem
	builtAt time.Time
}

// Computer serves trending lookups from the latest complete snapshot.
// Implements feed.TrendingSource.
type Computer struct {
	interactions feed.InteractionReader
	config       Config
	logger       zerolog.Logger

	current atomic.Pointer[snapshot]
}

// NewComputer creates a Computer with an empty snapshot.
//
//nolint:gocritic // hugeParam: config copied for immutability
func NewComputer(interactions feed.InteractionReader, config Config, logger zerolog.Logger) *Computer {
	c := &Computer{
		interactions: interactions,
		config:       config,
		logger:       logger.With().Str("component", "trending").Logger(),
	}
	c.current.Store(&snapshot{})
	return c
}

// Trending returns up to limit items from the current snapshot,
// highest score first.
func (c *Computer) Trending(limit int) []feed.TrendingItem {
	snap := c.current.Load()
	items := snap.items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// BuiltAt returns when the current snapshot was computed.
func (c *Computer) BuiltAt() time.Time {
	return c.current.Load().builtAt
}

// Recompute rebuilds the snapshot from the interaction window and swaps
// it in. On failure the previous snapshot stays live.
func (c *Computer) Recompute(ctx context.Context, now time.Time) error {
	since := now.Add(-c.config.Window)
	interactions, err := c.interactions.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list window interactions: %w", err)
	}

	start := time.Now()
	items := compute(interactions, since, now, c.config)
	c.current.Store(&snapshot{items: items, builtAt: now})
	metrics.TrendingRecomputeDuration.Observe(time.Since(start).Seconds())

	c.logger.Debug().
		Int("interactions", len(interactions)).
		Int("trending", len(items)).
		Msg("trending snapshot recomputed")
	return nil
}

// Run recomputes on the configured interval until ctx is canceled.
func (c *Computer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	if err := c.Recompute(ctx, time.Now().UTC()); err != nil {
		c.logger.Error().Err(err).Msg("initial trending recompute failed, serving empty snapshot")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Recompute(ctx, time.Now().UTC()); err != nil {
				c.logger.Error().Err(err).Msg("trending recompute failed, keeping previous snapshot")
			}
		}
	}
}

// aggregate accumulates per-item window statistics.
type aggregate struct {
	content    feed.ContentRef
	count      int
	weightSum  float64
	users      map[string]struct{}
	eventTypes map[feed.InteractionType]struct{}
}

// compute scores the window. Eligible items are ordered by score, then
// interaction count, then key for determinism.
//
//nolint:gocritic // hugeParam: config copied for immutability
func compute(interactions []feed.Interaction, since, now time.Time, config Config) []feed.TrendingItem {
	byItem := make(map[string]*aggregate)
	for _, in := range interactions {
		w := in.Type.Weight()
		if w == 0 || !in.Content.Type.Valid() {
			continue
		}
		key := in.Content.Key()
		agg, ok := byItem[key]
		if !ok {
			agg = &aggregate{
				content:    in.Content,
				users:      make(map[string]struct{}),
				eventTypes: make(map[feed.InteractionType]struct{}),
			}
			byItem[key] = agg
		}
		agg.count++
		agg.weightSum += w
		agg.users[in.UserID] = struct{}{}
		agg.eventTypes[in.Type] = struct{}{}
	}

	hours := now.Sub(since).Hours()
	if hours <= 0 {
		hours = 1
	}

	items := make([]feed.TrendingItem, 0, len(byItem))
	for _, agg := range byItem {
		if agg.count < config.MinInteractions || len(agg.users) < config.MinUniqueUsers {
			continue
		}

		velocity := float64(agg.count) / hours
		quality := agg.weightSum / float64(agg.count)
		userDiversity := float64(len(agg.users)) / float64(agg.count)
		typeDiversity := float64(len(agg.eventTypes)) / knownInteractionTypes

		score := velocity*weightVelocity +
			quality*weightQuality +
			userDiversity*weightUserDiversity +
			typeDiversity*weightTypeDiversity

		items = append(items, feed.TrendingItem{
			Content:      agg.content,
			Score:        score,
			Interactions: agg.count,
			UniqueUsers:  len(agg.users),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].Interactions != items[j].Interactions {
			return items[i].Interactions > items[j].Interactions
		}
		return items[i].Content.Key() < items[j].Content.Key()
	})

	if len(items) > config.MaxItems {
		items = items[:config.MaxItems]
	}
	return items
}

var _ feed.TrendingSource = (*Computer)(nil)
