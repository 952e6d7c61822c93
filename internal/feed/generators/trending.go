// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package generators

import (
	"context"

	"github.com/civicstream/feedengine/internal/feed"
)

// Trending surfaces the current trending snapshot, with raw scores
// normalized against the snapshot's top score.
type Trending struct {
	source feed.TrendingSource
}

// NewTrending creates the trending generator.
func NewTrending(source feed.TrendingSource) *Trending {
	return &Trending{source: source}
}

// Name implements feed.Generator.
func (g *Trending) Name() string { return NameTrending }

// Generate implements feed.Generator. Reads a precomputed snapshot, so
// it never fails; a stale or empty snapshot just yields fewer
// candidates.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (g *Trending) Generate(_ context.Context, req feed.GeneratorRequest) ([]feed.Candidate, error) {
	items := g.source.Trending(req.Limit)
	if len(items) == 0 {
		return nil, nil
	}

	top := items[0].Score
	if top <= 0 {
		return nil, nil
	}

	candidates := make([]feed.Candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, feed.Candidate{
			Content:  item.Content,
			RawScore: item.Score / top,
			Source:   NameTrending,
			Reasons:  []string{"trending in your community"},
		})
	}
	return candidates, nil
}

var _ feed.Generator = (*Trending)(nil)
