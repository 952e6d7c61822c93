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
	// followedWindow bounds recency for followed-organization content.
	followedWindow = 30 * 24 * time.Hour

	// followedScore is the flat score for unseen followed content: the
	// user asked for this, so it ranks high without further evidence.
	followedScore = 0.9
)

// Followed surfaces unseen recent content from organizations the user
// explicitly follows.
type Followed struct {
	social       feed.SocialProvider
	content      feed.ContentProvider
	interactions feed.InteractionReader
}

// NewFollowed creates the followed-organization generator.
func NewFollowed(social feed.SocialProvider, content feed.ContentProvider, interactions feed.InteractionReader) *Followed {
	return &Followed{social: social, content: content, interactions: interactions}
}

// Name implements feed.Generator.
func (g *Followed) Name() string { return NameFollowed }

// Generate implements feed.Generator.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (g *Followed) Generate(ctx context.Context, req feed.GeneratorRequest) ([]feed.Candidate, error) {
	orgs, err := g.social.GetFollowedOrganizations(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get followed organizations: %w", err)
	}
	if len(orgs) == 0 {
		return nil, nil
	}
	followed := make(map[string]struct{}, len(orgs))
	for _, org := range orgs {
		followed[org] = struct{}{}
	}

	recent, err := g.content.ListRecentContent(ctx, req.Now.Add(-followedWindow), nil)
	if err != nil {
		return nil, fmt.Errorf("list recent content: %w", err)
	}

	seen, err := recentlySeen(ctx, g.interactions, req.UserID, req.Now)
	if err != nil {
		seen = nil
	}

	candidates := make([]feed.Candidate, 0, len(recent))
	for _, meta := range recent {
		if !meta.Eligible() || meta.OrganizationID == "" {
			continue
		}
		if _, ok := followed[meta.OrganizationID]; !ok {
			continue
		}
		if _, skip := seen[meta.Ref.Key()]; skip {
			continue
		}
		candidates = append(candidates, feed.Candidate{
			Content:  meta.Ref,
			RawScore: followedScore,
			Source:   NameFollowed,
			Reasons:  []string{"from an organization you follow"},
		})
	}

	return topN(candidates, req.Limit), nil
}

var _ feed.Generator = (*Followed)(nil)
