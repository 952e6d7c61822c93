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

func TestOverridesNoActiveExperiments(t *testing.T) {
	exps := NewExperiments()
	if _, _, ok := exps.Overrides("u1"); ok {
		t.Error("Overrides() matched with no active experiments")
	}
}

func TestOverridesAssignmentIsStable(t *testing.T) {
	exps := NewExperiments()
	exps.SetActive([]Experiment{{
		Name:         "heavier-trending",
		TrafficShare: 0.5,
		Weights:      feed.ScoreWeights{Trendiness: 1},
		Caps:         feed.DefaultDiversityCaps(),
	}})

	_, _, first := exps.Overrides("u1")
	for i := 0; i < 20; i++ {
		if _, _, got := exps.Overrides("u1"); got != first {
			t.Fatal("assignment changed between calls")
		}
	}
}

func TestOverridesTrafficShareBounds(t *testing.T) {
	all := Experiment{Name: "all", TrafficShare: 1, Weights: feed.DefaultScoreWeights()}
	none := Experiment{Name: "none", TrafficShare: 0, Weights: feed.DefaultScoreWeights()}

	exps := NewExperiments()
	exps.SetActive([]Experiment{all})
	if _, _, ok := exps.Overrides("anyone"); !ok {
		t.Error("full traffic share excluded a user")
	}

	exps.SetActive([]Experiment{none})
	if _, _, ok := exps.Overrides("anyone"); ok {
		t.Error("zero traffic share included a user")
	}
}

func TestOverridesSplitsTraffic(t *testing.T) {
	exps := NewExperiments()
	exps.SetActive([]Experiment{{Name: "half", TrafficShare: 0.5}})

	var in int
	const users = 2000
	for i := 0; i < users; i++ {
		if _, _, ok := exps.Overrides(fmt.Sprintf("user-%04d", i)); ok {
			in++
		}
	}
	// FNV over 2000 users should land near the configured share.
	if in < users*35/100 || in > users*65/100 {
		t.Errorf("assigned %d of %d users at share 0.5", in, users)
	}
}
