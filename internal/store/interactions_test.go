// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package store

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/logging"
)

func newTestStore(t *testing.T) *InteractionStore {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"}, logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample(id, userID string, at time.Time) feed.Interaction {
	return feed.Interaction{
		ID:               id,
		UserID:           userID,
		Content:          feed.ContentRef{Type: feed.ContentEvent, ID: "e1"},
		Type:             feed.InteractionLike,
		TimeSpentSeconds: 42,
		ScrollDepth:      0.8,
		CreatedAt:        at,
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, sample("i1", "u1", at)); err != nil {
			t.Fatalf("Append() redelivery %d error: %v", i, err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d after redeliveries, want 1", n)
	}
}

func TestAppendRejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append(context.Background(), feed.Interaction{UserID: "u1"}); err == nil {
		t.Error("Append() without id should error")
	}
}

func TestListByUserSinceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Append(ctx, sample("old", "u1", base.Add(-48*time.Hour))); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(ctx, sample("recent", "u1", base)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(ctx, sample("other-user", "u2", base)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got, err := s.ListByUserSince(ctx, "u1", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListByUserSince() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d interactions, want 1: %+v", len(got), got)
	}

	in := got[0]
	if in.ID != "recent" || in.UserID != "u1" {
		t.Errorf("wrong interaction returned: %+v", in)
	}
	if in.Content.Type != feed.ContentEvent || in.Content.ID != "e1" {
		t.Errorf("content did not round-trip: %+v", in.Content)
	}
	if in.Type != feed.InteractionLike || in.TimeSpentSeconds != 42 || in.ScrollDepth != 0.8 {
		t.Errorf("fields did not round-trip: %+v", in)
	}
	if !in.CreatedAt.Equal(base) {
		t.Errorf("created_at = %v, want %v", in.CreatedAt, base)
	}
}

func TestListByUsersSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i, userID := range []string{"u1", "u2", "u3"} {
		in := sample("i-"+userID, userID, base.Add(time.Duration(i)*time.Minute))
		if err := s.Append(ctx, in); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	got, err := s.ListByUsersSince(ctx, []string{"u1", "u3"}, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListByUsersSince() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d interactions, want 2", len(got))
	}
	for _, in := range got {
		if in.UserID == "u2" {
			t.Errorf("excluded user's interaction returned: %+v", in)
		}
	}

	empty, err := s.ListByUsersSince(ctx, nil, base)
	if err != nil {
		t.Fatalf("ListByUsersSince(nil) error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty user list returned %d interactions", len(empty))
	}
}

func TestListSinceOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		in := sample(string(rune('a'+i)), "u1", base.Add(time.Duration(i)*time.Minute))
		if err := s.Append(ctx, in); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	got, err := s.ListSince(ctx, base)
	if err != nil {
		t.Fatalf("ListSince() error: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d interactions, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("interactions not in descending time order at %d", i)
		}
	}
}
