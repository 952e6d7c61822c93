// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package ranking

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/civicstream/feedengine/internal/feed"
)

// Experiment is one active A/B experiment. Users are assigned to a
// variant by a stable hash of their ID, so assignment is deterministic
// across requests and instances.
type Experiment struct {
	// Name identifies the experiment.
	Name string

	// TrafficShare is the fraction of users assigned to the variant
	// (0-1); the remainder gets control behavior.
	TrafficShare float64

	// Weights and Caps override the engine defaults for the variant.
	Weights feed.ScoreWeights
	Caps    feed.DiversityCaps
}

// Experiments resolves per-user experiment overrides. Experiment
// ownership is external; this type only consumes assignments as a pure
// function over the ranked list's parameters.
type Experiments struct {
	mu     sync.RWMutex
	active []Experiment
}

// NewExperiments creates an empty experiment registry.
func NewExperiments() *Experiments {
	return &Experiments{}
}

// SetActive replaces the active experiment set.
func (e *Experiments) SetActive(exps []Experiment) {
	sorted := make([]Experiment, len(exps))
	copy(sorted, exps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	e.mu.Lock()
	e.active = sorted
	e.mu.Unlock()
}

// Overrides returns the first matching experiment's weight and cap
// overrides for the user, if any.
func (e *Experiments) Overrides(userID string) (feed.ScoreWeights, feed.DiversityCaps, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, exp := range e.active {
		if assigned(userID, exp.Name, exp.TrafficShare) {
			return exp.Weights, exp.Caps, true
		}
	}
	return feed.ScoreWeights{}, feed.DiversityCaps{}, false
}

// assigned buckets the user into [0,1) by FNV-1a hash of user+experiment.
func assigned(userID, experiment string, share float64) bool {
	if share <= 0 {
		return false
	}
	if share >= 1 {
		return true
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(experiment))

	bucket := float64(h.Sum32()%10000) / 10000.0
	return bucket < share
}

// Ensure Experiments satisfies the engine's interface.
var _ feed.ExperimentSource = (*Experiments)(nil)
