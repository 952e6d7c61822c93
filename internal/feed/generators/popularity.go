// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package generators

import (
	"context"
	"fmt"
	"time"

	"github.com/civicstream/feedengine/internal/feed"
)

const (
	// popularityWindow bounds both the content horizon and the
	// interaction counting window for cold-start content.
	popularityWindow = 7 * 24 * time.Hour

	// Interaction volume dominates; freshness breaks ties between
	// equally popular (or equally ignored) items.
	popularityCountWeight = 0.75
	popularityFreshWeight = 0.25
)

// Popularity is the cold-start fallback: recent eligible content scored
// by windowed interaction volume, freshness as the secondary signal.
// Active only when the user has no profile signal, so new users always
// receive a non-empty feed.
type Popularity struct {
	content      feed.ContentProvider
	interactions feed.InteractionReader
}

// NewPopularity creates the popularity generator.
func NewPopularity(content feed.ContentProvider, interactions feed.InteractionReader) *Popularity {
	return &Popularity{content: content, interactions: interactions}
}

// Name implements feed.Generator.
func (g *Popularity) Name() string { return NamePopularity }

// Generate implements feed.Generator. Interaction counts are normalized
// against the busiest item in the window; before any interactions exist
// at all, freshness alone orders the feed.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (g *Popularity) Generate(ctx context.Context, req feed.GeneratorRequest) ([]feed.Candidate, error) {
	if !req.Profile.Empty() {
		return nil, nil
	}

	since := req.Now.Add(-popularityWindow)
	recent, err := g.content.ListRecentContent(ctx, since, nil)
	if err != nil {
		return nil, fmt.Errorf("list recent content: %w", err)
	}

	counts, maxCount, err := g.windowCounts(ctx, since)
	if err != nil {
		return nil, err
	}

	candidates := make([]feed.Candidate, 0, len(recent))
	for _, meta := range recent {
		if !meta.Eligible() {
			continue
		}
		age := req.Now.Sub(meta.CreatedAt)
		if age < 0 {
			age = 0
		}
		freshness := 1 - age.Seconds()/popularityWindow.Seconds()
		if freshness < 0 {
			freshness = 0
		}

		score := freshness
		reason := "recently added"
		if maxCount > 0 {
			volume := float64(counts[meta.Ref.Key()]) / float64(maxCount)
			score = popularityCountWeight*volume + popularityFreshWeight*freshness
			if volume > 0 {
				reason = "popular right now"
			}
		}
		if score <= 0 {
			continue
		}

		candidates = append(candidates, feed.Candidate{
			Content:  meta.Ref,
			RawScore: score,
			Source:   NamePopularity,
			Reasons:  []string{reason},
		})
	}

	return topN(candidates, req.Limit), nil
}

// windowCounts tallies interactions per content item inside the window.
func (g *Popularity) windowCounts(ctx context.Context, since time.Time) (map[string]int, int, error) {
	all, err := g.interactions.ListSince(ctx, since)
	if err != nil {
		return nil, 0, fmt.Errorf("list interactions: %w", err)
	}

	counts := make(map[string]int, len(all))
	maxCount := 0
	for _, in := range all {
		key := in.Content.Key()
		counts[key]++
		if counts[key] > maxCount {
			maxCount = counts[key]
		}
	}
	return counts, maxCount, nil
}

var _ feed.Generator = (*Popularity)(nil)
