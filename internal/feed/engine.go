// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/civicstream/feedengine/internal/metrics"
)

// Ranker merges candidates across generators and produces the final
// ranked list. Must be deterministic given identical inputs.
type Ranker interface {
	Rank(rc RankContext, candidates []Candidate) []FeedItem
}

// PageFilter enforces diversity caps over an already-ranked list.
type PageFilter interface {
	Apply(items []FeedItem, n int, caps DiversityCaps) []FeedItem
}

// ExperimentSource supplies per-user A/B overrides for scoring weights
// and diversity caps. Application is a pure function over the ranked
// list; experiments never re-fetch candidates.
type ExperimentSource interface {
	Overrides(userID string) (ScoreWeights, DiversityCaps, bool)
}

// RankContext is the shared input to ranking.
type RankContext struct {
	Profile  *UserProfile
	Context  *UserContext
	Metadata map[string]ContentMetadata
	Weights  ScoreWeights
	Now      time.Time
}

// Engine assembles, caches and serves ranked feeds. It is safe for
// concurrent use.
type Engine struct {
	config  Config
	logger  zerolog.Logger
	ranker  Ranker
	filter  PageFilter
	exps    ExperimentSource
	profile ProfileSource
	content ContentProvider
	userctx ContextProvider

	generators []Generator
	genMu      sync.RWMutex

	// cache holds fully-ranked lists per (user, type filter) key.
	cache   map[string]*cacheEntry
	cacheMu sync.RWMutex

	// userGen is the per-user feed generation. Bumping it invalidates
	// every outstanding cursor for that user.
	userGen   map[string]uint64
	userGenMu sync.Mutex

	// limiters throttle async recomputation per user.
	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	// flight coalesces concurrent rebuilds for the same cache key.
	flight singleflight.Group

	// recomputeWG tracks async recompute goroutines for clean shutdown.
	recomputeWG sync.WaitGroup
	closed      chan struct{}
	closeOnce   sync.Once
}

// cacheEntry is one cached ranked feed.
type cacheEntry struct {
	items          []FeedItem
	caps           DiversityCaps
	generation     uint64
	generatorsUsed []string
	expiresAt      time.Time
}

// NewEngine creates a feed engine.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngine(cfg Config, logger zerolog.Logger, ranker Ranker, filter PageFilter, profiles ProfileSource, content ContentProvider) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feed config: %w", err)
	}
	if ranker == nil || filter == nil {
		return nil, fmt.Errorf("ranker and page filter are required")
	}

	return &Engine{
		config:   cfg,
		logger:   logger.With().Str("component", "feed").Logger(),
		ranker:   ranker,
		filter:   filter,
		profile:  profiles,
		content:  content,
		cache:    make(map[string]*cacheEntry),
		userGen:  make(map[string]uint64),
		limiters: make(map[string]*rate.Limiter),
		closed:   make(chan struct{}),
	}, nil
}

// SetExperiments attaches an A/B experiment source.
func (e *Engine) SetExperiments(src ExperimentSource) {
	e.exps = src
}

// SetContextProvider attaches a resolver for user context (location,
// device) consulted when a request carries none of its own.
func (e *Engine) SetContextProvider(src ContextProvider) {
	e.userctx = src
}

// RegisterGenerator adds a candidate generator to the blend.
func (e *Engine) RegisterGenerator(g Generator) {
	e.genMu.Lock()
	defer e.genMu.Unlock()

	e.generators = append(e.generators, g)
	e.logger.Info().Str("generator", g.Name()).Msg("registered generator")
}

// GenerateFeed returns one page of the user's feed. A cursor from an
// invalidated generation yields ErrCursorExpired; the caller restarts
// from offset zero.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) GenerateFeed(ctx context.Context, req FeedRequest) (*FeedResponse, error) {
	start := time.Now()
	req = e.prepareRequest(req)

	gen := e.currentGeneration(req.UserID)
	cur, err := decodeCursor(req.Cursor, gen)
	if err != nil || cur.Generation != gen {
		return nil, ErrCursorExpired
	}

	key := e.cacheKey(req)
	entry, hit := e.checkCache(key, gen)
	if hit {
		metrics.FeedCacheHits.Inc()
	} else {
		metrics.FeedCacheMisses.Inc()
		entry, err = e.rebuildShared(ctx, key, req)
		if err != nil {
			return nil, err
		}
	}

	return e.page(req, entry, cur, hit, start), nil
}

// Invalidate drops the user's cached feeds and profile, bumps the feed
// generation, and schedules an asynchronous recompute (throttled).
// Called on significant interactions.
func (e *Engine) Invalidate(userID string) {
	metrics.FeedInvalidations.Inc()

	e.userGenMu.Lock()
	e.userGen[userID]++
	e.userGenMu.Unlock()

	e.cacheMu.Lock()
	for key := range e.cache {
		if keyUser(key) == userID {
			delete(e.cache, key)
		}
	}
	e.cacheMu.Unlock()

	if e.profile != nil {
		e.profile.Invalidate(userID)
	}

	e.scheduleRecompute(userID)
}

// Close stops background recomputation and waits for it to finish.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.closed) })
	e.recomputeWG.Wait()
}

// prepareRequest applies defaults and generates a request ID if needed.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) prepareRequest(req FeedRequest) FeedRequest {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Limit <= 0 {
		req.Limit = e.config.DefaultPageSize
	}
	if req.Limit > e.config.MaxPageSize {
		req.Limit = e.config.MaxPageSize
	}
	return req
}

// cacheKey builds the cache key for a request. The type filter is part
// of the key; the generation is checked separately.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) cacheKey(req FeedRequest) string {
	if len(req.ContentTypes) == 0 {
		return req.UserID + "|"
	}
	types := make([]string, len(req.ContentTypes))
	for i, t := range req.ContentTypes {
		types[i] = string(t)
	}
	sort.Strings(types)
	return req.UserID + "|" + strings.Join(types, ",")
}

// keyUser extracts the user ID from a cache key.
func keyUser(key string) string {
	user, _, _ := strings.Cut(key, "|")
	return user
}

// currentGeneration returns the user's current feed generation.
func (e *Engine) currentGeneration(userID string) uint64 {
	e.userGenMu.Lock()
	defer e.userGenMu.Unlock()
	return e.userGen[userID]
}

// checkCache returns a live cache entry for the key and generation.
func (e *Engine) checkCache(key string, gen uint64) (*cacheEntry, bool) {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()

	entry, ok := e.cache[key]
	if !ok || entry.generation != gen || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry, true
}

// rebuildShared coalesces concurrent rebuilds of the same key.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) rebuildShared(ctx context.Context, key string, req FeedRequest) (*cacheEntry, error) {
	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		// Another caller may have populated the cache while this one
		// waited on the flight group.
		gen := e.currentGeneration(req.UserID)
		if entry, ok := e.checkCache(key, gen); ok {
			return entry, nil
		}
		return e.rebuild(ctx, key, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*cacheEntry), nil
}

// rebuild runs the full pipeline: profile, generators, merge, rank,
// diversity filter, cache.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) rebuild(ctx context.Context, key string, req FeedRequest) (*cacheEntry, error) {
	now := time.Now().UTC()
	profile := e.loadProfile(ctx, req.UserID)
	uctx := e.loadContext(ctx, req)

	greq := GeneratorRequest{
		UserID:  req.UserID,
		Profile: profile,
		Context: uctx,
		Limit:   e.config.MaxFeedSize,
		Now:     now,
	}

	candidates, used := e.runGenerators(ctx, greq)
	if len(candidates) == 0 {
		// Degraded but valid: an empty candidate set produces an
		// empty feed rather than an error.
		return e.store(key, req.UserID, nil, used, e.config.Caps), nil
	}

	candidates = e.filterRequestedTypes(candidates, req.ContentTypes)

	meta := e.fetchMetadata(ctx, candidates)
	candidates = e.dropIneligible(candidates, meta)

	weights := e.config.Weights
	caps := e.config.Caps
	if e.exps != nil {
		if w, c, ok := e.exps.Overrides(req.UserID); ok {
			weights, caps = w, c
		}
	}

	ranked := e.ranker.Rank(RankContext{
		Profile:  profile,
		Context:  uctx,
		Metadata: meta,
		Weights:  weights,
		Now:      now,
	}, candidates)

	ranked = e.filter.Apply(ranked, e.config.MaxFeedSize, caps)
	for i := range ranked {
		ranked[i].Position = i
	}

	return e.store(key, req.UserID, ranked, used, caps), nil
}

// loadProfile fetches the user profile, degrading to an empty profile
// on error so personalization failures never fail the feed.
func (e *Engine) loadProfile(ctx context.Context, userID string) *UserProfile {
	if e.profile == nil {
		return &UserProfile{UserID: userID}
	}

	profile, err := e.profile.GetProfile(ctx, userID, false)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("profile load failed, serving non-personalized feed")
		return &UserProfile{UserID: userID}
	}
	return profile
}

// loadContext returns the request's own user context, falling back to
// the context provider. Resolution failure degrades to context-free
// ranking, never a failed feed.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) loadContext(ctx context.Context, req FeedRequest) *UserContext {
	if req.Context != nil || e.userctx == nil {
		return req.Context
	}

	resolved, err := e.userctx.GetUserContext(ctx, req.UserID)
	if err != nil {
		e.logger.Debug().Err(err).Str("user_id", req.UserID).Msg("user context lookup failed, ranking without context")
		return nil
	}
	return resolved
}

// genResult holds one generator's output.
type genResult struct {
	name       string
	candidates []Candidate
	err        error
}

// runGenerators fans out all registered generators in parallel. They
// only read shared state, so a failed or timed-out generator is
// skipped, never fatal.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) runGenerators(ctx context.Context, req GeneratorRequest) ([]Candidate, []string) {
	e.genMu.RLock()
	generators := e.generators
	e.genMu.RUnlock()

	results := make([]genResult, len(generators))
	var wg sync.WaitGroup

	for i, g := range generators {
		wg.Add(1)
		go func(idx int, gen Generator) {
			defer wg.Done()

			genCtx, cancel := context.WithTimeout(ctx, e.config.GeneratorTimeout)
			defer cancel()

			genStart := time.Now()
			cands, err := gen.Generate(genCtx, req)
			metrics.ObserveGenerator(gen.Name(), genStart, len(cands), err)
			results[idx] = genResult{name: gen.Name(), candidates: cands, err: err}
		}(i, g)
	}
	wg.Wait()

	var all []Candidate
	used := make([]string, 0, len(results))
	for _, res := range results {
		if res.err != nil {
			e.logger.Warn().Str("generator", res.name).Err(res.err).Msg("generator failed")
			continue
		}
		if len(res.candidates) == 0 {
			continue
		}
		used = append(used, res.name)
		all = append(all, res.candidates...)
	}
	return all, used
}

// filterRequestedTypes drops candidates outside the requested types.
func (e *Engine) filterRequestedTypes(candidates []Candidate, types []ContentType) []Candidate {
	if len(types) == 0 {
		return candidates
	}
	allowed := make(map[ContentType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if _, ok := allowed[c.Content.Type]; ok {
			kept = append(kept, c)
		}
	}
	return kept
}

// fetchMetadata resolves metadata for each unique candidate. A failed
// lookup is logged and the candidate is scored without metadata; it
// never aborts feed generation.
func (e *Engine) fetchMetadata(ctx context.Context, candidates []Candidate) map[string]ContentMetadata {
	meta := make(map[string]ContentMetadata)
	if e.content == nil {
		return meta
	}

	for _, c := range candidates {
		key := c.Content.Key()
		if _, ok := meta[key]; ok {
			continue
		}
		m, err := e.content.GetContentMetadata(ctx, c.Content)
		if err != nil {
			e.logger.Debug().Str("content", key).Err(err).Msg("metadata lookup failed, skipping")
			continue
		}
		meta[key] = m
	}
	return meta
}

// dropIneligible removes candidates whose metadata marks them as not
// published/active. Candidates with no metadata at all are kept and
// scored conservatively by the ranker.
func (e *Engine) dropIneligible(candidates []Candidate, meta map[string]ContentMetadata) []Candidate {
	kept := candidates[:0]
	for _, c := range candidates {
		if m, ok := meta[c.Content.Key()]; ok && !m.Eligible() {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// store caches the ranked list under the user's current generation.
func (e *Engine) store(key, userID string, items []FeedItem, used []string, caps DiversityCaps) *cacheEntry {
	if items == nil {
		items = []FeedItem{}
	}

	entry := &cacheEntry{
		items:          items,
		caps:           caps,
		generation:     e.currentGeneration(userID),
		generatorsUsed: used,
		expiresAt:      time.Now().Add(e.config.CacheTTL),
	}

	e.cacheMu.Lock()
	e.cache[key] = entry
	e.cacheMu.Unlock()

	return entry
}

// page selects one page out of a cached ranked list. The diversity
// caps are re-applied at page scale: the cached list only satisfies
// them at full-list scale, and a plain offset slice can concentrate
// one content type inside a single page. Only the contiguous prefix
// of the filtered selection is served, so an item the filter skipped
// ends a page early and is revisited at the start of the next one
// rather than dropped.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) page(req FeedRequest, entry *cacheEntry, cur cursor, cacheHit bool, start time.Time) *FeedResponse {
	items := entry.items
	offset := cur.Offset
	if offset > len(items) {
		offset = len(items)
	}

	selected := e.filter.Apply(items[offset:], req.Limit, entry.caps)
	page := make([]FeedItem, 0, len(selected))
	for i, item := range selected {
		if item.Position != offset+i {
			break
		}
		page = append(page, item)
	}

	next := ""
	if end := offset + len(page); len(page) > 0 && end < len(items) {
		next = cursor{Generation: entry.generation, Offset: end}.Encode()
	}

	return &FeedResponse{
		Items:      page,
		NextCursor: next,
		Metadata: FeedMetadata{
			RequestID:      req.RequestID,
			UserID:         req.UserID,
			GeneratorsUsed: entry.generatorsUsed,
			TotalRanked:    len(items),
			Generation:     entry.generation,
			CacheHit:       cacheHit,
			LatencyMS:      time.Since(start).Milliseconds(),
			Timestamp:      time.Now().UTC(),
		},
	}
}

// scheduleRecompute rebuilds the user's default feed in the background,
// throttled per user so interaction bursts do not cause recompute storms.
func (e *Engine) scheduleRecompute(userID string) {
	select {
	case <-e.closed:
		return
	default:
	}

	if !e.recomputeLimiter(userID).Allow() {
		return
	}

	e.recomputeWG.Add(1)
	go func() {
		defer e.recomputeWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		req := e.prepareRequest(FeedRequest{UserID: userID})
		if _, err := e.rebuildShared(ctx, e.cacheKey(req), req); err != nil {
			e.logger.Warn().Err(err).Str("user_id", userID).Msg("async feed recompute failed")
		}
	}()
}

// recomputeLimiter returns the per-user recompute limiter.
func (e *Engine) recomputeLimiter(userID string) *rate.Limiter {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()

	l, ok := e.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.config.RecomputeRatePerMinute/60.0), 1)
		e.limiters[userID] = l
	}
	return l
}
