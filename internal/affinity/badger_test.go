// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package affinity

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/civicstream/feedengine/internal/logging"
)

func openTestBadger(t *testing.T, decayPerWeek float64) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore(t.TempDir(), decayPerWeek, logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("OpenBadgerStore() error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return store
}

func TestBadgerUpdateAndList(t *testing.T) {
	store := openTestBadger(t, DefaultConfig().DecayPerWeek)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	err := store.Update(ctx, "u1", "climate", func(row Row, exists bool) Row {
		if exists {
			t.Error("row existed before first update")
		}
		row.TagID = "climate"
		row.Score = 0.25
		row.InteractionCount = 1
		row.LastInteractionAt = now
		row.FirstInteractionAt = now
		return row
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	// Second update sees the stored row.
	err = store.Update(ctx, "u1", "climate", func(row Row, exists bool) Row {
		if !exists || row.Score != 0.25 {
			t.Errorf("second update row = %+v, exists = %v", row, exists)
		}
		row.Score = 0.5
		row.InteractionCount++
		return row
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	rows, err := store.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser() error: %v", err)
	}
	if len(rows) != 1 || rows[0].Score != 0.5 || rows[0].InteractionCount != 2 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestBadgerRowsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now().UTC()

	store, err := OpenBadgerStore(dir, DefaultConfig().DecayPerWeek, logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("OpenBadgerStore() error: %v", err)
	}
	err = store.Update(ctx, "u1", "housing", func(row Row, _ bool) Row {
		row.TagID = "housing"
		row.Score = 0.7
		row.LastInteractionAt = now
		row.FirstInteractionAt = now
		return row
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := OpenBadgerStore(dir, DefaultConfig().DecayPerWeek, logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	rows, err := reopened.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser() error: %v", err)
	}
	if len(rows) != 1 || rows[0].Score != 0.7 {
		t.Errorf("rows after reopen = %+v", rows)
	}
}

func TestBadgerVectorsApplyDecayAndFloor(t *testing.T) {
	// 0.5/week: the 8-day-old 0.06 row decays to ~0.027, under the
	// 0.05 floor.
	store := openTestBadger(t, 0.5)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	put := func(userID, tagID string, score float64, last time.Time) {
		t.Helper()
		err := store.Update(ctx, userID, tagID, func(row Row, _ bool) Row {
			row.TagID = tagID
			row.Score = score
			row.LastInteractionAt = last
			row.FirstInteractionAt = last
			return row
		})
		if err != nil {
			t.Fatalf("Update(%s, %s) error: %v", userID, tagID, err)
		}
	}

	put("u1", "climate", 0.8, now)                       // fresh, kept
	put("u1", "housing", 0.06, now.Add(-8*24*time.Hour)) // decays under the floor
	put("u2", "climate", 0.5, now)

	vectors, err := store.Vectors(ctx, 0.05, now)
	if err != nil {
		t.Fatalf("Vectors() error: %v", err)
	}

	u1 := vectors["u1"]
	if len(u1) != 1 {
		t.Fatalf("u1 vector = %v, want only climate", u1)
	}
	if u1["climate"] != 0.8 {
		t.Errorf("fresh score = %v, want 0.8 undecayed", u1["climate"])
	}
	if vectors["u2"]["climate"] != 0.5 {
		t.Errorf("u2 climate = %v", vectors["u2"]["climate"])
	}
}

func TestBadgerMarkSeenIdempotency(t *testing.T) {
	store := openTestBadger(t, DefaultConfig().DecayPerWeek)
	ctx := context.Background()

	first, err := store.MarkSeen(ctx, "evt-1")
	if err != nil {
		t.Fatalf("MarkSeen() error: %v", err)
	}
	if !first {
		t.Error("first MarkSeen reported duplicate")
	}

	for i := 0; i < 3; i++ {
		again, err := store.MarkSeen(ctx, "evt-1")
		if err != nil {
			t.Fatalf("MarkSeen() error: %v", err)
		}
		if again {
			t.Error("redelivered MarkSeen reported first occurrence")
		}
	}

	other, err := store.MarkSeen(ctx, "evt-2")
	if err != nil || !other {
		t.Errorf("MarkSeen(evt-2) = %v, %v", other, err)
	}
}
