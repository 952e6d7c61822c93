// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package generators implements the candidate-generation strategies.
// Generators are independent and read-only: each emits a scored list
// from shared state and never communicates with its peers.
package generators

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/civicstream/feedengine/internal/feed"
)

// Generator names, used as candidate sources and in metrics labels.
const (
	NameTagAffinity   = "tag_affinity"
	NameCollaborative = "collaborative"
	NameTrending      = "trending"
	NameLocation      = "location"
	NameFollowed      = "followed"
	NameExploration   = "exploration"
	NamePopularity    = "popularity"
)

const (
	// recencyBoostWindow gives freshly created content a mild score
	// bump in the personalized generator.
	recencyBoostWindow = 7 * 24 * time.Hour
	recencyBoost       = 1.2

	// seenExclusionWindow drops content the user already interacted
	// with very recently; re-surfacing it within a day feels broken.
	seenExclusionWindow = 24 * time.Hour
)

// TagAffinity matches content against the user's decayed tag
// affinities. Cold-start users (empty profile) get nothing here; the
// non-personalized generators carry them.
type TagAffinity struct {
	content      feed.ContentProvider
	interactions feed.InteractionReader
}

// NewTagAffinity creates the tag-affinity generator.
func NewTagAffinity(content feed.ContentProvider, interactions feed.InteractionReader) *TagAffinity {
	return &TagAffinity{content: content, interactions: interactions}
}

// Name implements feed.Generator.
func (g *TagAffinity) Name() string { return NameTagAffinity }

// Generate implements feed.Generator. Per item the raw score is the
// affinity-weighted tag relevance sum, normalized by the user's total
// top-tag affinity so scores stay in [0,1].
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (g *TagAffinity) Generate(ctx context.Context, req feed.GeneratorRequest) ([]feed.Candidate, error) {
	if req.Profile.Empty() {
		return nil, nil
	}

	tagIDs := make([]string, 0, len(req.Profile.TopTags))
	var affinitySum float64
	for _, ta := range req.Profile.TopTags {
		tagIDs = append(tagIDs, ta.TagID)
		affinitySum += ta.Score
	}
	if affinitySum == 0 {
		return nil, nil
	}

	tagged, err := g.content.ListContentByTags(ctx, tagIDs)
	if err != nil {
		return nil, fmt.Errorf("list content by tags: %w", err)
	}

	seen, err := recentlySeen(ctx, g.interactions, req.UserID, req.Now)
	if err != nil {
		// Losing the exclusion filter degrades, not fails.
		seen = nil
	}

	candidates := make([]feed.Candidate, 0, len(tagged))
	for _, tc := range tagged {
		if !tc.Meta.Eligible() {
			continue
		}
		if _, skip := seen[tc.Meta.Ref.Key()]; skip {
			continue
		}

		var weighted float64
		var topTag string
		var topContribution float64
		for _, tag := range tc.Tags {
			contribution := tag.Relevance * req.Profile.AffinityFor(tag.TagID)
			weighted += contribution
			if contribution > topContribution {
				topContribution = contribution
				topTag = tag.TagID
			}
		}
		if weighted == 0 {
			continue
		}

		score := weighted / affinitySum
		if req.Now.Sub(tc.Meta.CreatedAt) < recencyBoostWindow {
			score *= recencyBoost
		}
		if score > 1 {
			score = 1
		}

		candidates = append(candidates, feed.Candidate{
			Content:  tc.Meta.Ref,
			RawScore: score,
			Source:   NameTagAffinity,
			Reasons:  []string{fmt.Sprintf("matches your interest in %s", topTag)},
		})
	}

	return topN(candidates, req.Limit), nil
}

// recentlySeen returns the content keys the user interacted with inside
// the exclusion window.
func recentlySeen(ctx context.Context, reader feed.InteractionReader, userID string, now time.Time) (map[string]struct{}, error) {
	recent, err := reader.ListByUserSince(ctx, userID, now.Add(-seenExclusionWindow))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(recent))
	for _, in := range recent {
		seen[in.Content.Key()] = struct{}{}
	}
	return seen, nil
}

// topN sorts candidates by score (ties by key) and truncates.
func topN(candidates []feed.Candidate, n int) []feed.Candidate {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RawScore != candidates[j].RawScore {
			return candidates[i].RawScore > candidates[j].RawScore
		}
		return candidates[i].Content.Key() < candidates[j].Content.Key()
	})
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

var _ feed.Generator = (*TagAffinity)(nil)
