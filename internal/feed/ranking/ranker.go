// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package ranking implements the content scorer and the diversity
// constrained re-ranking applied to merged candidate lists.
package ranking

import (
	"sort"
	"time"

	"github.com/civicstream/feedengine/internal/feed"
)

// Factor names used in score breakdowns.
const (
	FactorRelevance   = "relevance"
	FactorDiversity   = "diversity"
	FactorTrendiness  = "trendiness"
	FactorLocation    = "location"
	FactorTemporal    = "temporal"
	FactorSocialProof = "social_proof"
	FactorQuality     = "quality"
)

// Generator source names the ranker treats specially.
const (
	sourceTrending      = "trending"
	sourceCollaborative = "collaborative"
)

// locationRadiusKm bounds the location relevance factor.
const locationRadiusKm = 50.0

// Ranker combines merged candidates into a final weighted score per
// item. Rank is deterministic: identical inputs produce byte-identical
// ordering.
type Ranker struct{}

// NewRanker creates a Ranker.
func NewRanker() *Ranker {
	return &Ranker{}
}

// merged is a candidate aggregated across generators.
type merged struct {
	content  feed.ContentRef
	rawScore float64
	sources  []string
	reasons  []string
}

// Rank merges candidates by content identity (summing raw scores,
// concatenating reasons), applies the weighted scoring factors, and
// sorts descending by final score with deterministic tie-breaking
// (most recent created_at, then lexicographic id).
//
//nolint:gocritic // hugeParam: rc passed by value for immutability
func (r *Ranker) Rank(rc feed.RankContext, candidates []feed.Candidate) []feed.FeedItem {
	byKey := mergeByIdentity(candidates)

	w := rc.Weights.Normalize()
	items := make([]feed.FeedItem, 0, len(byKey))

	for _, m := range byKey {
		meta, hasMeta := rc.Metadata[m.content.Key()]

		relevance := w.Relevance * clamp01(m.rawScore)
		diversity := w.Diversity * diversityFactor(m.content.Type, rc.Context)
		trendiness := w.Trendiness * sourceFactor(m.sources, sourceTrending)
		socialProof := w.SocialProof * sourceFactor(m.sources, sourceCollaborative)
		location := w.Location * locationFactor(rc.Context, meta, hasMeta)
		temporal := w.Temporal * temporalFactor(rc.Now, meta, hasMeta)
		quality := w.Quality * qualityFactor(meta, hasMeta)

		// Fixed summation order: float addition is not associative, and
		// summing over the breakdown map would give identical inputs
		// bit-different scores across calls.
		score := relevance + diversity + trendiness + socialProof + location + temporal + quality

		breakdown := map[string]float64{
			FactorRelevance:   relevance,
			FactorDiversity:   diversity,
			FactorTrendiness:  trendiness,
			FactorSocialProof: socialProof,
			FactorLocation:    location,
			FactorTemporal:    temporal,
			FactorQuality:     quality,
		}

		item := feed.FeedItem{
			Content:   m.content,
			Score:     score,
			Breakdown: breakdown,
			Sources:   m.sources,
			Reasons:   m.reasons,
		}
		if hasMeta {
			item.OrganizationID = meta.OrganizationID
			item.CreatedAt = meta.CreatedAt
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].Content.Key() < items[j].Content.Key()
	})

	return items
}

// mergeByIdentity aggregates candidates keyed by (type, id) with a
// deterministic iteration order.
func mergeByIdentity(candidates []feed.Candidate) []merged {
	index := make(map[string]int)
	var out []merged

	for _, c := range candidates {
		key := c.Content.Key()
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, merged{content: c.Content})
			i = len(out) - 1
		}
		out[i].rawScore += c.RawScore
		out[i].sources = appendUnique(out[i].sources, c.Source)
		out[i].reasons = append(out[i].reasons, c.Reasons...)
	}

	// Sources sorted for byte-identical output across runs.
	for i := range out {
		sort.Strings(out[i].sources)
	}
	return out
}

// diversityFactor penalizes content types the caller saw very recently
// in this session and mildly rewards the rest.
func diversityFactor(t feed.ContentType, uc *feed.UserContext) float64 {
	if uc == nil {
		return 0.5
	}
	for _, recent := range uc.RecentContentTypes {
		if recent == t {
			return -1.0
		}
	}
	return 0.5
}

// sourceFactor returns 1 if the item came from the named generator.
func sourceFactor(sources []string, name string) float64 {
	for _, s := range sources {
		if s == name {
			return 1
		}
	}
	return 0
}

// locationFactor scores proximity between the user and the content.
func locationFactor(uc *feed.UserContext, meta feed.ContentMetadata, hasMeta bool) float64 {
	if uc == nil || uc.Location == nil || !hasMeta || meta.Location == nil {
		return 0
	}
	km := HaversineKm(*uc.Location, *meta.Location)
	if km >= locationRadiusKm {
		return 0
	}
	return 1 - km/locationRadiusKm
}

// temporalFactor boosts events starting in the next 24-72 hours,
// peaking at the near edge of the window.
func temporalFactor(now time.Time, meta feed.ContentMetadata, hasMeta bool) float64 {
	if !hasMeta || meta.StartsAt == nil {
		return 0
	}
	until := meta.StartsAt.Sub(now)
	if until < 24*time.Hour || until > 72*time.Hour {
		return 0
	}
	// Linear falloff from 1.0 at 24h to 0.25 at 72h.
	frac := float64(until-24*time.Hour) / float64(48*time.Hour)
	return 1 - 0.75*frac
}

// qualityFactor rewards metadata completeness.
func qualityFactor(meta feed.ContentMetadata, hasMeta bool) float64 {
	if !hasMeta {
		return 0
	}
	score := 0.25 // having metadata at all
	if meta.OrganizationID != "" {
		score += 0.25
	}
	if meta.Location != nil {
		score += 0.25
	}
	if !meta.CreatedAt.IsZero() {
		score += 0.25
	}
	return score
}

// appendUnique appends s if not already present.
func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// Ensure the implementations satisfy the engine's interfaces.
var (
	_ feed.Ranker     = (*Ranker)(nil)
	_ feed.PageFilter = (*DiversityFilter)(nil)
)

// clamp01 bounds v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
