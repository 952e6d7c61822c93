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
	// neighborWindow bounds how far back neighbor interactions count.
	neighborWindow = 14 * 24 * time.Hour

	// minEndorsers is the minimum number of distinct neighbors that
	// must have engaged with an item; a single neighbor's click is
	// anecdote, not signal.
	minEndorsers = 2

	// maxNeighbors bounds the neighbor fan-out per request.
	maxNeighbors = 20
)

// Collaborative surfaces content that similar users engaged with
// recently, weighted by neighbor similarity and interaction strength.
type Collaborative struct {
	similarity   feed.SimilaritySource
	interactions feed.InteractionReader
}

// NewCollaborative creates the collaborative-filtering generator.
func NewCollaborative(similarity feed.SimilaritySource, interactions feed.InteractionReader) *Collaborative {
	return &Collaborative{similarity: similarity, interactions: interactions}
}

// Name implements feed.Generator.
func (g *Collaborative) Name() string { return NameCollaborative }

// Generate implements feed.Generator.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (g *Collaborative) Generate(ctx context.Context, req feed.GeneratorRequest) ([]feed.Candidate, error) {
	neighbors := g.similarity.FindSimilarUsers(req.UserID, maxNeighbors)
	if len(neighbors) == 0 {
		return nil, nil
	}

	similarity := make(map[string]float64, len(neighbors))
	neighborIDs := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		similarity[n.UserID] = n.Similarity
		neighborIDs = append(neighborIDs, n.UserID)
	}

	recent, err := g.interactions.ListByUsersSince(ctx, neighborIDs, req.Now.Add(-neighborWindow))
	if err != nil {
		return nil, fmt.Errorf("list neighbor interactions: %w", err)
	}

	seen, err := recentlySeen(ctx, g.interactions, req.UserID, req.Now)
	if err != nil {
		seen = nil
	}

	type endorsement struct {
		content   feed.ContentRef
		score     float64
		endorsers map[string]struct{}
	}
	byItem := make(map[string]*endorsement)

	for _, in := range recent {
		w := in.Type.Weight()
		if w == 0 {
			continue
		}
		key := in.Content.Key()
		if _, skip := seen[key]; skip {
			continue
		}
		e, ok := byItem[key]
		if !ok {
			e = &endorsement{content: in.Content, endorsers: make(map[string]struct{})}
			byItem[key] = e
		}
		e.score += similarity[in.UserID] * w
		e.endorsers[in.UserID] = struct{}{}
	}

	candidates := make([]feed.Candidate, 0, len(byItem))
	for _, e := range byItem {
		if len(e.endorsers) < minEndorsers {
			continue
		}
		score := e.score
		if score > 1 {
			score = 1
		}
		candidates = append(candidates, feed.Candidate{
			Content:  e.content,
			RawScore: score,
			Source:   NameCollaborative,
			Reasons:  []string{fmt.Sprintf("popular with %d people like you", len(e.endorsers))},
		})
	}

	return topN(candidates, req.Limit), nil
}

var _ feed.Generator = (*Collaborative)(nil)
