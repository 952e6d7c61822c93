// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package similarity builds and serves the collaborative-filtering
// neighbor index. The index is recomputed in the background from
// decayed affinity vectors and swapped in atomically; readers never
// block on a rebuild.
package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/metrics"
)

// Config controls index construction.
type Config struct {
	// MinSharedTags is the minimum tag overlap before two users are
	// compared at all. Comparing users on one or two shared tags
	// produces noise, not neighbors.
	MinSharedTags int `koanf:"min_shared_tags"`

	// Threshold is the minimum cosine similarity for a neighbor to be
	// kept in the index.
	Threshold float64 `koanf:"threshold"`

	// MaxNeighbors caps neighbors stored per user.
	MaxNeighbors int `koanf:"max_neighbors"`

	// RefreshInterval is the rebuild cadence.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinSharedTags:   3,
		Threshold:       0.3,
		MaxNeighbors:    50,
		RefreshInterval: 6 * time.Hour,
	}
}

// Validate checks configuration bounds.
func (c Config) Validate() error {
	if c.MinSharedTags < 1 {
		return fmt.Errorf("min_shared_tags must be >= 1, got %d", c.MinSharedTags)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0,1], got %f", c.Threshold)
	}
	if c.MaxNeighbors < 1 {
		return fmt.Errorf("max_neighbors must be >= 1, got %d", c.MaxNeighbors)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive, got %s", c.RefreshInterval)
	}
	return nil
}

// VectorSource supplies decayed affinity vectors for all users.
// Implemented by the affinity store.
type VectorSource interface {
	Vectors(ctx context.Context, floor float64, now time.Time) (map[string]map[string]float64, error)
}

// snapshot is an immutable build of the neighbor index.
type snapshot struct {
	neighbors map[string][]feed.SimilarUser
	builtAt   time.Time
	userCount int
}

// Index serves similarity lookups from the latest complete snapshot.
// Implements feed.SimilaritySource.
type Index struct {
	source VectorSource
	config Config
	floor  float64
	logger zerolog.Logger

	current atomic.Pointer[snapshot]
}

// NewIndex creates an Index with an empty snapshot. floor is the
// minimum decayed affinity a vector entry must carry to participate.
//
//nolint:gocritic // hugeParam: config copied for immutability
func NewIndex(source VectorSource, config Config, floor float64, logger zerolog.Logger) *Index {
	idx := &Index{
		source: source,
		config: config,
		floor:  floor,
		logger: logger.With().Str("component", "similarity_index").Logger(),
	}
	idx.current.Store(&snapshot{neighbors: map[string][]feed.SimilarUser{}})
	return idx
}

// FindSimilarUsers returns up to limit neighbors for the user, most
// similar first. Unknown users get an empty result.
func (idx *Index) FindSimilarUsers(userID string, limit int) []feed.SimilarUser {
	snap := idx.current.Load()
	neighbors := snap.neighbors[userID]
	if limit > 0 && len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors
}

// BuiltAt returns when the current snapshot was computed. Zero for the
// initial empty snapshot.
func (idx *Index) BuiltAt() time.Time {
	return idx.current.Load().builtAt
}

// Rebuild recomputes the index from current affinity vectors and swaps
// it in. On failure the previous snapshot stays live.
func (idx *Index) Rebuild(ctx context.Context, now time.Time) error {
	vectors, err := idx.source.Vectors(ctx, idx.floor, now)
	if err != nil {
		return fmt.Errorf("load affinity vectors: %w", err)
	}

	start := time.Now()
	next := build(vectors, idx.config)
	next.builtAt = now
	idx.current.Store(next)
	metrics.SimilarityRebuildDuration.Observe(time.Since(start).Seconds())

	idx.logger.Info().
		Int("users", next.userCount).
		Dur("took", time.Since(start)).
		Msg("similarity index rebuilt")
	return nil
}

// Run rebuilds on the configured interval until ctx is canceled.
// Suitable as a supervised service body.
func (idx *Index) Run(ctx context.Context) error {
	ticker := time.NewTicker(idx.config.RefreshInterval)
	defer ticker.Stop()

	if err := idx.Rebuild(ctx, time.Now().UTC()); err != nil {
		idx.logger.Error().Err(err).Msg("initial similarity rebuild failed, serving empty index")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := idx.Rebuild(ctx, time.Now().UTC()); err != nil {
				idx.logger.Error().Err(err).Msg("similarity rebuild failed, keeping previous snapshot")
			}
		}
	}
}

// build computes pairwise neighbors via an inverted tag index, so only
// users sharing at least one tag are ever compared.
//
//nolint:gocritic // hugeParam: config copied for immutability
func build(vectors map[string]map[string]float64, config Config) *snapshot {
	// Inverted index: tag -> users carrying it.
	byTag := make(map[string][]string)
	for userID, vector := range vectors {
		for tagID := range vector {
			byTag[tagID] = append(byTag[tagID], userID)
		}
	}

	// Shared-tag counts per candidate pair, keyed by the lower user ID.
	type pairKey struct{ a, b string }
	shared := make(map[pairKey]int)
	for _, users := range byTag {
		for i := 0; i < len(users); i++ {
			for j := i + 1; j < len(users); j++ {
				a, b := users[i], users[j]
				if a > b {
					a, b = b, a
				}
				shared[pairKey{a, b}]++
			}
		}
	}

	norms := make(map[string]float64, len(vectors))
	for userID, vector := range vectors {
		norms[userID] = norm(vector)
	}

	neighbors := make(map[string][]feed.SimilarUser, len(vectors))
	for pair, count := range shared {
		if count < config.MinSharedTags {
			continue
		}
		sim := cosine(vectors[pair.a], vectors[pair.b], norms[pair.a], norms[pair.b])
		if sim < config.Threshold {
			continue
		}
		neighbors[pair.a] = append(neighbors[pair.a], feed.SimilarUser{UserID: pair.b, Similarity: sim, SharedTags: count})
		neighbors[pair.b] = append(neighbors[pair.b], feed.SimilarUser{UserID: pair.a, Similarity: sim, SharedTags: count})
	}

	for userID := range neighbors {
		list := neighbors[userID]
		sort.Slice(list, func(i, j int) bool {
			if list[i].Similarity != list[j].Similarity {
				return list[i].Similarity > list[j].Similarity
			}
			return list[i].UserID < list[j].UserID
		})
		if len(list) > config.MaxNeighbors {
			list = list[:config.MaxNeighbors]
		}
		neighbors[userID] = list
	}

	return &snapshot{neighbors: neighbors, userCount: len(vectors)}
}

// cosine computes the cosine similarity of two sparse vectors given
// their precomputed norms. Iterates the smaller vector.
func cosine(a, b map[string]float64, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for tagID, av := range a {
		if bv, ok := b[tagID]; ok {
			dot += av * bv
		}
	}
	return dot / (normA * normB)
}

func norm(v map[string]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

var _ feed.SimilaritySource = (*Index)(nil)
