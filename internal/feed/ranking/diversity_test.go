// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package ranking

import (
	"fmt"
	"testing"

	"github.com/civicstream/feedengine/internal/feed"
)

func makeItems(n int, typ feed.ContentType, org, source string) []feed.FeedItem {
	items := make([]feed.FeedItem, n)
	for i := range items {
		items[i] = feed.FeedItem{
			Content:        feed.ContentRef{Type: typ, ID: fmt.Sprintf("%s-%d", typ, i)},
			Score:          1 - float64(i)*0.01,
			Sources:        []string{source},
			OrganizationID: org,
		}
	}
	return items
}

func TestDiversityFilterContentTypeCap(t *testing.T) {
	caps := feed.DefaultDiversityCaps()

	// 20 posts then 20 events: a page of 12 allows at most ceil(12/3)=4
	// of any one type.
	items := append(makeItems(20, feed.ContentPost, "", "trending"), makeItems(20, feed.ContentEvent, "", "tag_affinity")...)
	// Distinct orgs so the org cap does not interfere.
	for i := range items {
		items[i].OrganizationID = fmt.Sprintf("org-%d", i)
	}

	out := NewDiversityFilter().Apply(items, 12, caps)

	counts := make(map[feed.ContentType]int)
	for _, item := range out {
		counts[item.Content.Type]++
	}
	for typ, n := range counts {
		if n > 4 {
			t.Errorf("content type %s appears %d times, cap is 4", typ, n)
		}
	}
}

func TestDiversityFilterOrganizationCap(t *testing.T) {
	caps := feed.DefaultDiversityCaps()

	items := makeItems(10, feed.ContentFundraiser, "org-a", "followed")
	items = append(items, makeItems(10, feed.ContentEvent, "org-b", "trending")...)
	items = append(items, makeItems(10, feed.ContentPost, "org-c", "exploration")...)

	out := NewDiversityFilter().Apply(items, 6, caps)

	orgCounts := make(map[string]int)
	for _, item := range out {
		orgCounts[item.OrganizationID]++
	}
	for org, n := range orgCounts {
		if n > caps.MaxPerOrganization {
			t.Errorf("organization %s appears %d times, cap is %d", org, n, caps.MaxPerOrganization)
		}
	}
	if len(out) != 6 {
		t.Errorf("filter returned %d items, want 6", len(out))
	}
}

func TestDiversityFilterExhaustsCandidates(t *testing.T) {
	caps := feed.DefaultDiversityCaps()

	// Only one org with cap 2: filter cannot fill the page and must
	// return what it can rather than looping.
	items := makeItems(10, feed.ContentPost, "org-a", "trending")
	for i := range items {
		items[i].OrganizationID = "org-a"
	}

	out := NewDiversityFilter().Apply(items, 8, caps)
	if len(out) != caps.MaxPerOrganization {
		t.Errorf("filter returned %d items, want %d (org cap)", len(out), caps.MaxPerOrganization)
	}
}

func TestDiversityFilterEmptyAndSmallInputs(t *testing.T) {
	caps := feed.DefaultDiversityCaps()
	f := NewDiversityFilter()

	if out := f.Apply(nil, 10, caps); len(out) != 0 {
		t.Errorf("Apply(nil) returned %d items, want 0", len(out))
	}
	if out := f.Apply(makeItems(2, feed.ContentPost, "", "trending"), 0, caps); out != nil {
		t.Errorf("Apply with n=0 returned %v, want nil", out)
	}
}

func TestExperimentsStableAssignment(t *testing.T) {
	exps := NewExperiments()
	exps.SetActive([]Experiment{{
		Name:         "heavier-trending",
		TrafficShare: 0.5,
		Weights:      feed.ScoreWeights{Relevance: 0.3, Trendiness: 0.3, Diversity: 0.1, Location: 0.1, Temporal: 0.1, SocialProof: 0.05, Quality: 0.05},
		Caps:         feed.DefaultDiversityCaps(),
	}})

	_, _, first := exps.Overrides("user-42")
	for i := 0; i < 50; i++ {
		if _, _, got := exps.Overrides("user-42"); got != first {
			t.Fatal("experiment assignment not stable across calls")
		}
	}

	// Roughly half of a user population lands in a 0.5 share.
	assignedCount := 0
	for i := 0; i < 1000; i++ {
		if _, _, ok := exps.Overrides(fmt.Sprintf("user-%d", i)); ok {
			assignedCount++
		}
	}
	if assignedCount < 350 || assignedCount > 650 {
		t.Errorf("0.5 traffic share assigned %d/1000 users, expected roughly half", assignedCount)
	}
}

func TestExperimentsShareBounds(t *testing.T) {
	exps := NewExperiments()

	exps.SetActive([]Experiment{{Name: "off", TrafficShare: 0}})
	if _, _, ok := exps.Overrides("anyone"); ok {
		t.Error("zero traffic share should assign nobody")
	}

	exps.SetActive([]Experiment{{Name: "full", TrafficShare: 1}})
	if _, _, ok := exps.Overrides("anyone"); !ok {
		t.Error("full traffic share should assign everybody")
	}
}
