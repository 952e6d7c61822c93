// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package affinity

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicstream/feedengine/internal/feed"
)

// Config controls affinity accumulation, decay and profile building.
type Config struct {
	// DecayPerWeek is the fractional score loss per idle week.
	DecayPerWeek float64 `koanf:"decay_per_week"`

	// MinAffinity is the floor below which a decayed tag is treated as
	// absent from the user's profile.
	MinAffinity float64 `koanf:"min_affinity"`

	// TimeBonusCap bounds the per-interaction dwell-time bonus.
	TimeBonusCap float64 `koanf:"time_bonus_cap"`

	// ProfileTTL bounds how long a built profile is served from cache.
	ProfileTTL time.Duration `koanf:"profile_ttl"`

	// TopTags limits how many decayed tags a profile carries.
	TopTags int `koanf:"top_tags"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DecayPerWeek: 0.10,
		MinAffinity:  0.05,
		TimeBonusCap: 0.02,
		ProfileTTL:   24 * time.Hour,
		TopTags:      50,
	}
}

// Validate checks configuration bounds.
func (c Config) Validate() error {
	if c.DecayPerWeek <= 0 || c.DecayPerWeek >= 1 {
		return fmt.Errorf("decay_per_week must be in (0,1), got %f", c.DecayPerWeek)
	}
	if c.MinAffinity < 0 || c.MinAffinity >= 1 {
		return fmt.Errorf("min_affinity must be in [0,1), got %f", c.MinAffinity)
	}
	if c.TimeBonusCap < 0 {
		return fmt.Errorf("time_bonus_cap must be >= 0, got %f", c.TimeBonusCap)
	}
	if c.ProfileTTL <= 0 {
		return fmt.Errorf("profile_ttl must be positive, got %s", c.ProfileTTL)
	}
	if c.TopTags <= 0 {
		return fmt.Errorf("top_tags must be positive, got %d", c.TopTags)
	}
	return nil
}

// Trend computation constants. RecentActivity decays with a 14-day
// half-life; the trend compares it against the lifetime rate projected
// over the same window.
const (
	trendHalfLifeDays = 14.0
	trendRefDays      = 90.0
	trendUpRatio      = 1.25
	trendDownRatio    = 0.75

	// dwell-time bonus: +0.01 per 5 minutes of time spent, capped.
	dwellBonusPer     = 0.01
	dwellBonusSeconds = 300.0
)

// Updater folds interactions into the affinity store. Processing is
// at-most-once per interaction ID regardless of delivery retries.
type Updater struct {
	store   Store
	content feed.ContentProvider
	config  Config
	logger  zerolog.Logger
}

// NewUpdater creates an Updater.
//
//nolint:gocritic // hugeParam: config copied for immutability
func NewUpdater(store Store, content feed.ContentProvider, config Config, logger zerolog.Logger) *Updater {
	return &Updater{
		store:   store,
		content: content,
		config:  config,
		logger:  logger.With().Str("component", "affinity_updater").Logger(),
	}
}

// Apply folds one interaction into the user's affinity rows. Redelivered
// interactions (same ID) are no-ops. Interactions referencing unknown
// content or carrying an unknown type are dropped, not errored: a bad
// event must never wedge the ingest pipeline.
func (u *Updater) Apply(ctx context.Context, interaction feed.Interaction) error {
	if interaction.ID == "" || interaction.UserID == "" {
		u.logger.Warn().
			Str("interaction_id", interaction.ID).
			Msg("dropping interaction with missing identifiers")
		return nil
	}
	weight := interaction.Type.Weight()
	if weight == 0 {
		u.logger.Warn().
			Str("interaction_id", interaction.ID).
			Str("type", string(interaction.Type)).
			Msg("dropping interaction with unknown type")
		return nil
	}

	first, err := u.store.MarkSeen(ctx, interaction.ID)
	if err != nil {
		return fmt.Errorf("mark interaction seen: %w", err)
	}
	if !first {
		return nil
	}

	tags, err := u.content.GetContentTags(ctx, interaction.Content)
	if err != nil {
		u.logger.Warn().Err(err).
			Str("interaction_id", interaction.ID).
			Str("content", interaction.Content.Key()).
			Msg("dropping interaction for unresolvable content")
		return nil
	}

	bonus := dwellBonus(float64(interaction.TimeSpentSeconds), u.config.TimeBonusCap)
	at := interaction.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	for _, tag := range tags {
		boost := weight*tag.Relevance + bonus
		if boost <= 0 {
			continue
		}
		if err := u.applyBoost(ctx, interaction.UserID, tag.TagID, boost, at); err != nil {
			return fmt.Errorf("apply affinity boost for tag %s: %w", tag.TagID, err)
		}
	}
	return nil
}

// applyBoost decays the stored score to the interaction time, adds the
// boost, clamps to [0,1], and refreshes the trend counters.
func (u *Updater) applyBoost(ctx context.Context, userID, tagID string, boost float64, at time.Time) error {
	return u.store.Update(ctx, userID, tagID, func(row Row, exists bool) Row {
		if !exists {
			row.TagID = tagID
			row.FirstInteractionAt = at
			row.Trend = feed.TrendStable
		}

		current := DecayedScore(row.Score, row.LastInteractionAt, at, u.config.DecayPerWeek)
		row.Score = clamp01(current + boost)
		row.InteractionCount++

		row.RecentActivity = decayActivity(row.RecentActivity, row.LastInteractionAt, at) + 1
		row.Trend = trendFor(row, at)

		row.LastInteractionAt = at
		return row
	})
}

// dwellBonus converts seconds of attention into a capped score bonus.
func dwellBonus(seconds, maxBonus float64) float64 {
	if seconds <= 0 {
		return 0
	}
	bonus := seconds / dwellBonusSeconds * dwellBonusPer
	return math.Min(bonus, maxBonus)
}

// decayActivity halves the recent-activity counter every 14 days.
func decayActivity(activity float64, since, now time.Time) float64 {
	if activity <= 0 || since.IsZero() {
		return 0
	}
	elapsed := now.Sub(since)
	if elapsed <= 0 {
		return activity
	}
	days := elapsed.Hours() / 24
	return activity * math.Pow(0.5, days/trendHalfLifeDays)
}

// trendFor classifies whether the user's engagement with this tag is
// accelerating: recent activity is compared to the lifetime interaction
// rate projected over the trend window.
func trendFor(row Row, now time.Time) feed.Trend {
	lifetimeDays := now.Sub(row.FirstInteractionAt).Hours() / 24
	if lifetimeDays < trendHalfLifeDays || row.InteractionCount < 3 {
		// Not enough history to call a direction.
		return feed.TrendStable
	}
	if lifetimeDays > trendRefDays {
		lifetimeDays = trendRefDays
	}

	expected := float64(row.InteractionCount) * trendHalfLifeDays / lifetimeDays
	if expected <= 0 {
		return feed.TrendStable
	}

	ratio := row.RecentActivity / expected
	switch {
	case ratio > trendUpRatio:
		return feed.TrendIncreasing
	case ratio < trendDownRatio:
		return feed.TrendDecreasing
	default:
		return feed.TrendStable
	}
}

// clamp01 bounds v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
