// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package affinity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/metrics"
)

// profileWindow bounds how far back interactions contribute to the
// content-type preference and engagement-pattern aggregates.
const profileWindow = 90 * 24 * time.Hour

// ProfileBuilder assembles user profiles from decayed affinity rows and
// recent interaction history, with a TTL cache in front. Implements
// feed.ProfileSource.
type ProfileBuilder struct {
	store        Store
	interactions feed.InteractionReader
	config       Config
	logger       zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*cachedProfile

	group singleflight.Group
}

type cachedProfile struct {
	profile   *feed.UserProfile
	expiresAt time.Time
}

// NewProfileBuilder creates a ProfileBuilder.
//
//nolint:gocritic // hugeParam: config copied for immutability
func NewProfileBuilder(store Store, interactions feed.InteractionReader, config Config, logger zerolog.Logger) *ProfileBuilder {
	return &ProfileBuilder{
		store:        store,
		interactions: interactions,
		config:       config,
		logger:       logger.With().Str("component", "profile_builder").Logger(),
		cache:        make(map[string]*cachedProfile),
	}
}

// GetProfile returns the user's profile, building it on cache miss.
// Concurrent misses for the same user share one build. A user with no
// interaction history gets an empty profile, never an error.
func (b *ProfileBuilder) GetProfile(ctx context.Context, userID string, forceRefresh bool) (*feed.UserProfile, error) {
	if !forceRefresh {
		b.mu.RLock()
		entry, ok := b.cache[userID]
		b.mu.RUnlock()
		if ok && time.Now().Before(entry.expiresAt) {
			return entry.profile, nil
		}
	}

	result, err, _ := b.group.Do(userID, func() (any, error) {
		profile, err := b.build(ctx, userID, time.Now().UTC())
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.cache[userID] = &cachedProfile{
			profile:   profile,
			expiresAt: time.Now().Add(b.config.ProfileTTL),
		}
		b.mu.Unlock()
		return profile, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*feed.UserProfile), nil
}

// Invalidate drops the cached profile for a user. The next GetProfile
// rebuilds it from the store.
func (b *ProfileBuilder) Invalidate(userID string) {
	metrics.ProfileRecomputes.Inc()

	b.mu.Lock()
	delete(b.cache, userID)
	b.mu.Unlock()
}

// build assembles a fresh profile at the given instant.
func (b *ProfileBuilder) build(ctx context.Context, userID string, now time.Time) (*feed.UserProfile, error) {
	rows, err := b.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list affinity rows: %w", err)
	}

	profile := &feed.UserProfile{
		UserID:  userID,
		BuiltAt: now,
	}

	profile.TopTags = b.topTags(rows, now)

	recent, err := b.interactions.ListByUserSince(ctx, userID, now.Add(-profileWindow))
	if err != nil {
		// Tag affinities alone still personalize; degrade rather than fail.
		b.logger.Warn().Err(err).Str("user_id", userID).Msg("profile built without interaction aggregates")
		return profile, nil
	}

	profile.ContentTypePrefs = contentTypePrefs(recent)
	profile.Engagement = engagementPattern(recent)
	return profile, nil
}

// topTags returns the highest decayed-score tags at or above the
// affinity floor, capped at the configured count.
func (b *ProfileBuilder) topTags(rows []Row, now time.Time) []feed.TagAffinity {
	tags := make([]feed.TagAffinity, 0, len(rows))
	for _, row := range rows {
		decayed := DecayedScore(row.Score, row.LastInteractionAt, now, b.config.DecayPerWeek)
		if decayed < b.config.MinAffinity {
			continue
		}
		ta := row.TagAffinity
		ta.Score = decayed
		tags = append(tags, ta)
	}

	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Score != tags[j].Score {
			return tags[i].Score > tags[j].Score
		}
		return tags[i].TagID < tags[j].TagID
	})

	if len(tags) > b.config.TopTags {
		tags = tags[:b.config.TopTags]
	}
	return tags
}

// contentTypePrefs computes the weighted interaction share per content
// type, normalized to sum 1.
func contentTypePrefs(interactions []feed.Interaction) map[feed.ContentType]float64 {
	totals := make(map[feed.ContentType]float64)
	var sum float64
	for _, in := range interactions {
		w := in.Type.Weight()
		if w == 0 || !in.Content.Type.Valid() {
			continue
		}
		totals[in.Content.Type] += w
		sum += w
	}
	if sum == 0 {
		return nil
	}
	for t := range totals {
		totals[t] /= sum
	}
	return totals
}

// engagementPattern summarizes when the user is active and for how long.
func engagementPattern(interactions []feed.Interaction) feed.EngagementPattern {
	var pattern feed.EngagementPattern
	if len(interactions) == 0 {
		return pattern
	}

	hourCounts := make(map[int]int)
	dayCounts := make(map[time.Weekday]int)
	var totalSeconds, timed int

	for _, in := range interactions {
		hourCounts[in.CreatedAt.Hour()]++
		dayCounts[in.CreatedAt.Weekday()]++
		if in.TimeSpentSeconds > 0 {
			totalSeconds += in.TimeSpentSeconds
			timed++
		}
	}

	pattern.PeakHours = topHours(hourCounts, 3)
	pattern.PeakDays = topDays(dayCounts, 2)
	if timed > 0 {
		pattern.AvgSessionSeconds = float64(totalSeconds) / float64(timed)
	}
	return pattern
}

func topHours(counts map[int]int, n int) []int {
	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	sort.Ints(hours)
	return hours
}

func topDays(counts map[time.Weekday]int, n int) []time.Weekday {
	days := make([]time.Weekday, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		if counts[days[i]] != counts[days[j]] {
			return counts[days[i]] > counts[days[j]]
		}
		return days[i] < days[j]
	})
	if len(days) > n {
		days = days[:n]
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

var _ feed.ProfileSource = (*ProfileBuilder)(nil)
