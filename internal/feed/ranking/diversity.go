// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package ranking

import (
	"github.com/civicstream/feedengine/internal/feed"
)

// DiversityFilter enforces hard per-page caps over an already-sorted
// list: no content type exceeds ceil(N/ContentTypeShare), no single
// generator exceeds ceil(N/SourceShare), and no organization exceeds
// MaxPerOrganization. Selection is greedy: items violating a cap are
// skipped until the target count is filled or candidates exhaust.
type DiversityFilter struct{}

// NewDiversityFilter creates a DiversityFilter.
func NewDiversityFilter() *DiversityFilter {
	return &DiversityFilter{}
}

// Apply returns up to n items from the ranked list satisfying the caps.
func (f *DiversityFilter) Apply(items []feed.FeedItem, n int, caps feed.DiversityCaps) []feed.FeedItem {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}

	typeCap := ceilDiv(n, caps.ContentTypeShare)
	sourceCap := ceilDiv(n, caps.SourceShare)

	typeCounts := make(map[feed.ContentType]int)
	sourceCounts := make(map[string]int)
	orgCounts := make(map[string]int)

	out := make([]feed.FeedItem, 0, n)
	for _, item := range items {
		if len(out) == n {
			break
		}

		if typeCounts[item.Content.Type] >= typeCap {
			continue
		}
		if item.OrganizationID != "" && orgCounts[item.OrganizationID] >= caps.MaxPerOrganization {
			continue
		}
		if sourceExceeded(item.Sources, sourceCounts, sourceCap) {
			continue
		}

		typeCounts[item.Content.Type]++
		if item.OrganizationID != "" {
			orgCounts[item.OrganizationID]++
		}
		for _, s := range item.Sources {
			sourceCounts[s]++
		}
		out = append(out, item)
	}

	return out
}

// sourceExceeded reports whether admitting the item would leave it
// attributable only to generators already at their cap. An item that
// any under-cap generator emitted is admissible.
func sourceExceeded(sources []string, counts map[string]int, capN int) bool {
	if len(sources) == 0 {
		return false
	}
	for _, s := range sources {
		if counts[s] < capN {
			return false
		}
	}
	return true
}

// ceilDiv returns ceil(a/b).
func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
