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
	// explorationWindow bounds how old exploration candidates may be.
	explorationWindow = 14 * 24 * time.Hour

	// explorationScore is deliberately low: exploration counteracts
	// filter bubbles but must never outrank personalized signal.
	explorationScore = 0.3

	// explorationProbeFactor bounds how many recent items are tag-probed
	// per request, as a multiple of the requested limit.
	explorationProbeFactor = 3
)

// Exploration samples recent content outside the user's established
// interests. A user whose top tags never touch an item's tags is shown
// it at low weight, keeping nonzero novelty in every feed.
type Exploration struct {
	content feed.ContentProvider
}

// NewExploration creates the exploration generator.
func NewExploration(content feed.ContentProvider) *Exploration {
	return &Exploration{content: content}
}

// Name implements feed.Generator.
func (g *Exploration) Name() string { return NameExploration }

// Generate implements feed.Generator.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (g *Exploration) Generate(ctx context.Context, req feed.GeneratorRequest) ([]feed.Candidate, error) {
	recent, err := g.content.ListRecentContent(ctx, req.Now.Add(-explorationWindow), nil)
	if err != nil {
		return nil, fmt.Errorf("list recent content: %w", err)
	}

	known := make(map[string]struct{})
	if req.Profile != nil {
		for _, ta := range req.Profile.TopTags {
			known[ta.TagID] = struct{}{}
		}
	}

	probeBudget := req.Limit * explorationProbeFactor
	if probeBudget <= 0 {
		probeBudget = len(recent)
	}

	candidates := make([]feed.Candidate, 0, req.Limit)
	for _, meta := range recent {
		if probeBudget == 0 || (req.Limit > 0 && len(candidates) >= req.Limit) {
			break
		}
		if !meta.Eligible() {
			continue
		}
		probeBudget--

		tags, err := g.content.GetContentTags(ctx, meta.Ref)
		if err != nil {
			// One bad lookup never aborts the whole generation.
			continue
		}
		if overlapsKnown(tags, known) {
			continue
		}

		candidates = append(candidates, feed.Candidate{
			Content:  meta.Ref,
			RawScore: explorationScore,
			Source:   NameExploration,
			Reasons:  []string{"something new for you"},
		})
	}

	return candidates, nil
}

func overlapsKnown(tags []feed.TagAssignment, known map[string]struct{}) bool {
	for _, tag := range tags {
		if _, ok := known[tag.TagID]; ok {
			return true
		}
	}
	return false
}

var _ feed.Generator = (*Exploration)(nil)
