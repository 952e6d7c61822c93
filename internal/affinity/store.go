// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package affinity maintains per-user tag affinity state derived from
// the interaction log, and builds cached user profiles from it.
//
// Affinity rows are updated incrementally per interaction and decayed
// lazily at read time; no background sweep ever rewrites scores.
package affinity

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/civicstream/feedengine/internal/feed"
)

// Row is the stored affinity record for one (user, tag) pair. The
// embedded TagAffinity carries the externally visible fields; the rest
// supports trend computation.
type Row struct {
	feed.TagAffinity

	// FirstInteractionAt anchors the lifetime interaction rate.
	FirstInteractionAt time.Time `json:"first_interaction_at"`

	// RecentActivity is an exponentially decayed interaction counter
	// with a 14-day half-life, used only for the trend signal.
	RecentActivity float64 `json:"recent_activity"`
}

// Store persists affinity rows. Updates for a single user are
// serialized by the implementation (read-modify-write on the same
// row); users are independent by design.
type Store interface {
	// Update applies fn to the row for (userID, tagID) atomically.
	// fn receives the current row (zero Row if absent) and returns
	// the replacement.
	Update(ctx context.Context, userID, tagID string, fn func(row Row, exists bool) Row) error

	// ListByUser returns all stored rows for a user.
	ListByUser(ctx context.Context, userID string) ([]Row, error)

	// Vectors returns every user's decayed affinity vector, keeping
	// only entries at or above floor. Feeds the similarity index.
	Vectors(ctx context.Context, floor float64, now time.Time) (map[string]map[string]float64, error)

	// MarkSeen records an interaction ID and reports whether this is
	// its first occurrence. Guards at-most-once processing under
	// at-least-once delivery.
	MarkSeen(ctx context.Context, interactionID string) (first bool, err error)

	// Close releases store resources.
	Close() error
}

// DecayedScore applies lazy exponential decay to a stored score.
// decayPerWeek is the fractional loss per week (0.10 = 10%/week).
// Strictly decreasing in elapsed time; approaches zero as elapsed
// time grows without bound.
func DecayedScore(stored float64, lastInteraction, now time.Time, decayPerWeek float64) float64 {
	if stored <= 0 {
		return 0
	}
	elapsed := now.Sub(lastInteraction)
	if elapsed <= 0 {
		return stored
	}

	lambda := -math.Log(1 - decayPerWeek)
	weeks := elapsed.Hours() / (24 * 7)
	return stored * math.Exp(-lambda*weeks)
}

// MemoryStore is an in-memory Store for tests and standalone runs.
type MemoryStore struct {
	decayPerWeek float64

	mu   sync.RWMutex
	rows map[string]map[string]Row // userID -> tagID -> row
	seen map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store. decayPerWeek is
// applied when reading similarity vectors; see Config.DecayPerWeek.
func NewMemoryStore(decayPerWeek float64) *MemoryStore {
	return &MemoryStore{
		decayPerWeek: decayPerWeek,
		rows:         make(map[string]map[string]Row),
		seen:         make(map[string]struct{}),
	}
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, userID, tagID string, fn func(row Row, exists bool) Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userRows, ok := s.rows[userID]
	if !ok {
		userRows = make(map[string]Row)
		s.rows[userID] = userRows
	}

	row, exists := userRows[tagID]
	userRows[tagID] = fn(row, exists)
	return nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userRows := s.rows[userID]
	out := make([]Row, 0, len(userRows))
	for _, row := range userRows {
		out = append(out, row)
	}
	return out, nil
}

// Vectors implements Store.
func (s *MemoryStore) Vectors(_ context.Context, floor float64, now time.Time) (map[string]map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]float64, len(s.rows))
	for userID, userRows := range s.rows {
		for tagID, row := range userRows {
			score := DecayedScore(row.Score, row.LastInteractionAt, now, s.decayPerWeek)
			if score < floor {
				continue
			}
			if out[userID] == nil {
				out[userID] = make(map[string]float64)
			}
			out[userID][tagID] = score
		}
	}
	return out, nil
}

// MarkSeen implements Store.
func (s *MemoryStore) MarkSeen(_ context.Context, interactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[interactionID]; dup {
		return false, nil
	}
	s.seen[interactionID] = struct{}{}
	return true, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
