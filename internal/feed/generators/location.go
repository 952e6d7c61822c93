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
	"github.com/civicstream/feedengine/internal/feed/ranking"
)

const (
	// locationRadiusKm is the proximity cutoff.
	locationRadiusKm = 50.0

	// locationWindow bounds how old nearby content may be.
	locationWindow = 30 * 24 * time.Hour
)

// Location surfaces geocoded content near the caller's current
// location. Requires a location in the request context; without one
// the generator emits nothing.
type Location struct {
	content feed.ContentProvider
}

// NewLocation creates the location-proximity generator.
func NewLocation(content feed.ContentProvider) *Location {
	return &Location{content: content}
}

// Name implements feed.Generator.
func (g *Location) Name() string { return NameLocation }

// Generate implements feed.Generator. Score is linear distance decay:
// max(0, 1 - km/radius).
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (g *Location) Generate(ctx context.Context, req feed.GeneratorRequest) ([]feed.Candidate, error) {
	if req.Context == nil || req.Context.Location == nil {
		return nil, nil
	}
	user := *req.Context.Location

	recent, err := g.content.ListRecentContent(ctx, req.Now.Add(-locationWindow), nil)
	if err != nil {
		return nil, fmt.Errorf("list recent content: %w", err)
	}

	candidates := make([]feed.Candidate, 0, len(recent))
	for _, meta := range recent {
		if !meta.Eligible() || meta.Location == nil {
			continue
		}
		km := ranking.HaversineKm(user, *meta.Location)
		if km >= locationRadiusKm {
			continue
		}
		candidates = append(candidates, feed.Candidate{
			Content:  meta.Ref,
			RawScore: 1 - km/locationRadiusKm,
			Source:   NameLocation,
			Reasons:  []string{fmt.Sprintf("happening %.0f km from you", km)},
		})
	}

	return topN(candidates, req.Limit), nil
}

var _ feed.Generator = (*Location)(nil)
