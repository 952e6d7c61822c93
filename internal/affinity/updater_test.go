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

// fakeContent is a minimal feed.ContentProvider for updater tests.
type fakeContent struct {
	tags map[string][]feed.TagAssignment
}

func (f *fakeContent) GetContentTags(_ context.Context, ref feed.ContentRef) ([]feed.TagAssignment, error) {
	tags, ok := f.tags[ref.Key()]
	if !ok {
		return nil, feed.ErrContentNotFound
	}
	return tags, nil
}

func (f *fakeContent) GetContentMetadata(context.Context, feed.ContentRef) (feed.ContentMetadata, error) {
	return feed.ContentMetadata{}, feed.ErrContentNotFound
}

func (f *fakeContent) ListRecentContent(context.Context, time.Time, []feed.ContentType) ([]feed.ContentMetadata, error) {
	return nil, nil
}

func (f *fakeContent) ListContentByTags(context.Context, []string) ([]feed.TaggedContent, error) {
	return nil, nil
}

func newTestUpdater(t *testing.T) (*Updater, *MemoryStore, *fakeContent) {
	t.Helper()
	store := NewMemoryStore(DefaultConfig().DecayPerWeek)
	content := &fakeContent{tags: map[string][]feed.TagAssignment{
		"event:e1": {{TagID: "climate", Relevance: 1.0}, {TagID: "local", Relevance: 0.5}},
	}}
	return NewUpdater(store, content, DefaultConfig(), logging.NewTestLogger(io.Discard)), store, content
}

func interaction(id string, typ feed.InteractionType, at time.Time) feed.Interaction {
	return feed.Interaction{
		ID:        id,
		UserID:    "u1",
		Content:   feed.ContentRef{Type: feed.ContentEvent, ID: "e1"},
		Type:      typ,
		CreatedAt: at,
	}
}

func TestApplyBoostsByTypeWeightAndRelevance(t *testing.T) {
	updater, store, _ := newTestUpdater(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := updater.Apply(context.Background(), interaction("i1", feed.InteractionDonate, now)); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	rows, _ := store.ListByUser(context.Background(), "u1")
	if len(rows) != 2 {
		t.Fatalf("got %d affinity rows, want 2", len(rows))
	}
	scores := make(map[string]float64)
	for _, row := range rows {
		scores[row.TagID] = row.Score
	}
	// donate weight 0.10 at relevance 1.0 and 0.5.
	if math.Abs(scores["climate"]-0.10) > 1e-9 {
		t.Errorf("climate score = %f, want 0.10", scores["climate"])
	}
	if math.Abs(scores["local"]-0.05) > 1e-9 {
		t.Errorf("local score = %f, want 0.05", scores["local"])
	}
}

func TestApplyIsIdempotentPerInteractionID(t *testing.T) {
	updater, store, _ := newTestUpdater(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	event := interaction("i1", feed.InteractionLike, now)
	for i := 0; i < 5; i++ {
		if err := updater.Apply(context.Background(), event); err != nil {
			t.Fatalf("Apply() redelivery %d error: %v", i, err)
		}
	}

	rows, _ := store.ListByUser(context.Background(), "u1")
	for _, row := range rows {
		if row.InteractionCount != 1 {
			t.Errorf("tag %s interaction count = %d after redeliveries, want 1", row.TagID, row.InteractionCount)
		}
	}
}

func TestApplyClampsToOne(t *testing.T) {
	updater, store, _ := newTestUpdater(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// 20 donations at weight 0.10 would sum to 2.0 unclamped.
	for i := 0; i < 20; i++ {
		event := interaction(string(rune('a'+i)), feed.InteractionDonate, now.Add(time.Duration(i)*time.Minute))
		if err := updater.Apply(context.Background(), event); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}
	}

	rows, _ := store.ListByUser(context.Background(), "u1")
	for _, row := range rows {
		if row.Score > 1 {
			t.Errorf("tag %s score = %f, exceeds 1", row.TagID, row.Score)
		}
		if row.Score < 0 {
			t.Errorf("tag %s score = %f, below 0", row.TagID, row.Score)
		}
	}
}

func TestApplyDwellTimeBonusIsCapped(t *testing.T) {
	updater, store, _ := newTestUpdater(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	event := interaction("i1", feed.InteractionView, now)
	event.TimeSpentSeconds = 3600 // an hour of dwell must not dominate

	if err := updater.Apply(context.Background(), event); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	rows, _ := store.ListByUser(context.Background(), "u1")
	for _, row := range rows {
		if row.TagID != "climate" {
			continue
		}
		// view weight 0.01 + capped bonus 0.02.
		if math.Abs(row.Score-0.03) > 1e-9 {
			t.Errorf("climate score = %f, want 0.03 (weight + capped bonus)", row.Score)
		}
	}
}

func TestApplyDropsBadEvents(t *testing.T) {
	updater, store, _ := newTestUpdater(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	bad := []feed.Interaction{
		{},                                 // missing everything
		interaction("i1", "teleport", now), // unknown type
		{ // unknown content
			ID: "i2", UserID: "u1", Type: feed.InteractionLike,
			Content:   feed.ContentRef{Type: feed.ContentPost, ID: "missing"},
			CreatedAt: now,
		},
	}
	for _, event := range bad {
		if err := updater.Apply(context.Background(), event); err != nil {
			t.Errorf("Apply(%q) returned error %v, want silent drop", event.ID, err)
		}
	}

	rows, _ := store.ListByUser(context.Background(), "u1")
	if len(rows) != 0 {
		t.Errorf("bad events produced %d affinity rows, want 0", len(rows))
	}
}

func TestDecayedScoreMonotonicity(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	prev := 0.8
	for weeks := 1; weeks <= 20; weeks++ {
		got := DecayedScore(0.8, base, base.Add(time.Duration(weeks)*7*24*time.Hour), 0.10)
		if got >= prev {
			t.Fatalf("decayed score not strictly decreasing at week %d: %f >= %f", weeks, got, prev)
		}
		if got < 0 {
			t.Fatalf("decayed score went negative at week %d: %f", weeks, got)
		}
		prev = got
	}

	// One week at 10%/week loses exactly 10%.
	oneWeek := DecayedScore(1.0, base, base.Add(7*24*time.Hour), 0.10)
	if math.Abs(oneWeek-0.90) > 1e-9 {
		t.Errorf("one-week decay = %f, want 0.90", oneWeek)
	}

	// No decay for zero or negative elapsed time.
	if got := DecayedScore(0.5, base, base, 0.10); got != 0.5 {
		t.Errorf("zero-elapsed decay = %f, want 0.5", got)
	}
}

func TestTrendTransitions(t *testing.T) {
	updater, store, _ := newTestUpdater(t)
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Sparse history for two months, then a burst this week.
	times := []time.Time{
		start,
		start.Add(20 * 24 * time.Hour),
		start.Add(40 * 24 * time.Hour),
		start.Add(80 * 24 * time.Hour),
		start.Add(80*24*time.Hour + time.Hour),
		start.Add(80*24*time.Hour + 2*time.Hour),
		start.Add(80*24*time.Hour + 3*time.Hour),
	}
	for i, at := range times {
		event := interaction(string(rune('a'+i)), feed.InteractionAttend, at)
		if err := updater.Apply(context.Background(), event); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}
	}

	rows, _ := store.ListByUser(context.Background(), "u1")
	for _, row := range rows {
		if row.TagID == "climate" && row.Trend != feed.TrendIncreasing {
			t.Errorf("burst of recent activity should mark trend increasing, got %s", row.Trend)
		}
	}
}
