// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package affinity

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/logging"
)

// fakeInteractions is a canned feed.InteractionReader.
type fakeInteractions struct {
	byUser map[string][]feed.Interaction
}

func (f *fakeInteractions) ListByUserSince(_ context.Context, userID string, since time.Time) ([]feed.Interaction, error) {
	var out []feed.Interaction
	for _, in := range f.byUser[userID] {
		if !in.CreatedAt.Before(since) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (f *fakeInteractions) ListByUsersSince(ctx context.Context, userIDs []string, since time.Time) ([]feed.Interaction, error) {
	var out []feed.Interaction
	for _, id := range userIDs {
		batch, _ := f.ListByUserSince(ctx, id, since)
		out = append(out, batch...)
	}
	return out, nil
}

func (f *fakeInteractions) ListSince(ctx context.Context, since time.Time) ([]feed.Interaction, error) {
	var out []feed.Interaction
	for id := range f.byUser {
		batch, _ := f.ListByUserSince(ctx, id, since)
		out = append(out, batch...)
	}
	return out, nil
}

func seedAffinity(t *testing.T, store Store, userID string, scores map[string]float64, at time.Time) {
	t.Helper()
	for tagID, score := range scores {
		err := store.Update(context.Background(), userID, tagID, func(row Row, _ bool) Row {
			row.TagID = tagID
			row.Score = score
			row.InteractionCount = 5
			row.LastInteractionAt = at
			row.FirstInteractionAt = at.Add(-60 * 24 * time.Hour)
			row.Trend = feed.TrendStable
			return row
		})
		if err != nil {
			t.Fatalf("seed affinity: %v", err)
		}
	}
}

func TestGetProfileColdStartIsEmptyNotError(t *testing.T) {
	builder := NewProfileBuilder(NewMemoryStore(DefaultConfig().DecayPerWeek), &fakeInteractions{}, DefaultConfig(), logging.NewTestLogger(io.Discard))

	profile, err := builder.GetProfile(context.Background(), "nobody", false)
	if err != nil {
		t.Fatalf("GetProfile() cold start error: %v", err)
	}
	if !profile.Empty() {
		t.Errorf("cold-start profile not empty: %+v", profile)
	}
	if profile.UserID != "nobody" {
		t.Errorf("profile user = %q, want nobody", profile.UserID)
	}
}

func TestGetProfileDropsTagsBelowFloor(t *testing.T) {
	store := NewMemoryStore(DefaultConfig().DecayPerWeek)
	now := time.Now().UTC()
	seedAffinity(t, store, "u1", map[string]float64{
		"strong": 0.8,
		"weak":   0.04, // below the 0.05 floor
	}, now)

	builder := NewProfileBuilder(store, &fakeInteractions{}, DefaultConfig(), logging.NewTestLogger(io.Discard))
	profile, err := builder.GetProfile(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}

	if len(profile.TopTags) != 1 {
		t.Fatalf("got %d top tags, want 1: %+v", len(profile.TopTags), profile.TopTags)
	}
	if profile.TopTags[0].TagID != "strong" {
		t.Errorf("top tag = %s, want strong", profile.TopTags[0].TagID)
	}
}

func TestGetProfileAppliesDecayToTopTags(t *testing.T) {
	store := NewMemoryStore(DefaultConfig().DecayPerWeek)
	now := time.Now().UTC()

	// Stored a month ago at 0.5: four weeks of 10%/week decay.
	seedAffinity(t, store, "u1", map[string]float64{"aging": 0.5}, now.Add(-28*24*time.Hour))

	builder := NewProfileBuilder(store, &fakeInteractions{}, DefaultConfig(), logging.NewTestLogger(io.Discard))
	profile, err := builder.GetProfile(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}

	if len(profile.TopTags) != 1 {
		t.Fatalf("got %d top tags, want 1", len(profile.TopTags))
	}
	want := 0.5 * math.Pow(0.9, 4)
	if math.Abs(profile.TopTags[0].Score-want) > 0.01 {
		t.Errorf("decayed score = %f, want ~%f", profile.TopTags[0].Score, want)
	}
}

func TestGetProfileCachesUntilInvalidated(t *testing.T) {
	store := NewMemoryStore(DefaultConfig().DecayPerWeek)
	now := time.Now().UTC()
	seedAffinity(t, store, "u1", map[string]float64{"first": 0.6}, now)

	builder := NewProfileBuilder(store, &fakeInteractions{}, DefaultConfig(), logging.NewTestLogger(io.Discard))

	before, err := builder.GetProfile(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}

	// New data arrives; the cached profile must not see it yet.
	seedAffinity(t, store, "u1", map[string]float64{"second": 0.9}, now)

	cached, err := builder.GetProfile(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if len(cached.TopTags) != len(before.TopTags) {
		t.Errorf("cached profile changed without invalidation: %+v", cached.TopTags)
	}

	builder.Invalidate("u1")
	fresh, err := builder.GetProfile(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if len(fresh.TopTags) != 2 {
		t.Errorf("post-invalidation profile has %d tags, want 2", len(fresh.TopTags))
	}
}

func TestGetProfileForceRefreshBypassesCache(t *testing.T) {
	store := NewMemoryStore(DefaultConfig().DecayPerWeek)
	now := time.Now().UTC()
	seedAffinity(t, store, "u1", map[string]float64{"first": 0.6}, now)

	builder := NewProfileBuilder(store, &fakeInteractions{}, DefaultConfig(), logging.NewTestLogger(io.Discard))
	if _, err := builder.GetProfile(context.Background(), "u1", false); err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}

	seedAffinity(t, store, "u1", map[string]float64{"second": 0.9}, now)

	fresh, err := builder.GetProfile(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if len(fresh.TopTags) != 2 {
		t.Errorf("force refresh returned %d tags, want 2", len(fresh.TopTags))
	}
}

func TestContentTypePrefsNormalized(t *testing.T) {
	now := time.Now().UTC()
	interactions := []feed.Interaction{
		{ID: "1", UserID: "u1", Content: feed.ContentRef{Type: feed.ContentEvent, ID: "e"}, Type: feed.InteractionAttend, CreatedAt: now},
		{ID: "2", UserID: "u1", Content: feed.ContentRef{Type: feed.ContentPost, ID: "p"}, Type: feed.InteractionView, CreatedAt: now},
		{ID: "3", UserID: "u1", Content: feed.ContentRef{Type: feed.ContentFundraiser, ID: "f"}, Type: feed.InteractionDonate, CreatedAt: now},
	}

	prefs := contentTypePrefs(interactions)

	var sum float64
	for _, share := range prefs {
		sum += share
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("preference shares sum to %f, want 1", sum)
	}
	if prefs[feed.ContentFundraiser] <= prefs[feed.ContentPost] {
		t.Errorf("donate-weighted fundraiser share %f should exceed view-weighted post share %f",
			prefs[feed.ContentFundraiser], prefs[feed.ContentPost])
	}
}

func TestEngagementPatternPeaks(t *testing.T) {
	base := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) // a Monday

	var interactions []feed.Interaction
	// Heavy evening activity on Mondays, one stray morning Wednesday.
	for i := 0; i < 5; i++ {
		interactions = append(interactions, feed.Interaction{
			ID:               string(rune('a' + i)),
			Type:             feed.InteractionView,
			CreatedAt:        base.Add(time.Duration(i*7*24)*time.Hour + 19*time.Hour),
			TimeSpentSeconds: 120,
		})
	}
	interactions = append(interactions, feed.Interaction{
		ID:        "stray",
		Type:      feed.InteractionView,
		CreatedAt: base.Add(2*24*time.Hour + 8*time.Hour),
	})

	pattern := engagementPattern(interactions)

	foundHour := false
	for _, h := range pattern.PeakHours {
		if h == 19 {
			foundHour = true
		}
	}
	if !foundHour {
		t.Errorf("peak hours %v missing 19", pattern.PeakHours)
	}

	foundDay := false
	for _, d := range pattern.PeakDays {
		if d == time.Monday {
			foundDay = true
		}
	}
	if !foundDay {
		t.Errorf("peak days %v missing Monday", pattern.PeakDays)
	}

	if math.Abs(pattern.AvgSessionSeconds-120) > 1e-9 {
		t.Errorf("avg session = %f, want 120", pattern.AvgSessionSeconds)
	}
}
