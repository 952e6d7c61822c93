// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package main is the entry point for the Feedengine server.
//
// Feedengine serves personalized discovery feeds for a civic engagement
// platform. Interactions arrive over HTTP (or NATS JetStream when
// enabled), update per-user tag affinities, and feed the candidate
// generators that assemble each user's ranked feed.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered loading (env > file > defaults)
//  2. Interaction log: DuckDB append-only store
//  3. Affinity store: BadgerDB (or in-memory for development)
//  4. Upstream providers: content service HTTP client, or the built-in
//     fixture when UPSTREAM_BASE_URL is unset
//  5. Snapshots: similarity index and trending computer
//  6. Feed engine: generators, ranker, diversity filter
//  7. Ingest pipeline: Watermill router, optional NATS source
//  8. HTTP server: REST API under a suture supervision tree
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/civicstream/feedengine/internal/affinity"
	"github.com/civicstream/feedengine/internal/api"
	"github.com/civicstream/feedengine/internal/config"
	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/feed/generators"
	"github.com/civicstream/feedengine/internal/feed/ranking"
	"github.com/civicstream/feedengine/internal/ingest"
	"github.com/civicstream/feedengine/internal/logging"
	"github.com/civicstream/feedengine/internal/similarity"
	"github.com/civicstream/feedengine/internal/store"
	"github.com/civicstream/feedengine/internal/supervisor"
	"github.com/civicstream/feedengine/internal/trending"
	"github.com/civicstream/feedengine/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration load failed")
	}

	logging.Init(cfg.Logging.ToLogging())
	logger := logging.Logger()
	logger.Info().Msg("starting feedengine")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("feedengine exited with error")
	}
	logger.Info().Msg("feedengine stopped")
}

//nolint:gocritic // logger passed by value is acceptable for zerolog
func run(cfg *config.Config, logger zerolog.Logger) error {
	// Interaction log (DuckDB).
	interactions, err := store.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer interactions.Close()

	// Affinity store.
	affStore, err := openAffinityStore(cfg, logger)
	if err != nil {
		return err
	}
	defer affStore.Close()

	// Upstream collaborators. Without a base URL the in-memory fixture
	// serves development and tests.
	var (
		content feed.ContentProvider
		social  feed.SocialProvider
		userctx feed.ContextProvider
	)
	if cfg.Upstream.BaseURL != "" {
		client := upstream.NewClient(cfg.Upstream, logger)
		content, social, userctx = client, client, client
	} else {
		logger.Warn().Msg("no upstream base url configured, using in-memory fixture")
		fixture := upstream.NewFixture()
		content, social, userctx = fixture, fixture, fixture
	}

	// Affinity processing.
	updater := affinity.NewUpdater(affStore, content, cfg.Affinity, logger)
	profiles := affinity.NewProfileBuilder(affStore, interactions, cfg.Affinity, logger)

	// Background snapshots.
	simIndex := similarity.NewIndex(affStore, cfg.Similarity, cfg.Affinity.MinAffinity, logger)
	trendComputer := trending.NewComputer(interactions, cfg.Trending, logger)

	// Feed engine.
	engine, err := feed.NewEngine(cfg.Feed, logger, ranking.NewRanker(), ranking.NewDiversityFilter(), profiles, content)
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.SetExperiments(ranking.NewExperiments())
	engine.SetContextProvider(userctx)

	engine.RegisterGenerator(generators.NewTagAffinity(content, interactions))
	engine.RegisterGenerator(generators.NewCollaborative(simIndex, interactions))
	engine.RegisterGenerator(generators.NewTrending(trendComputer))
	engine.RegisterGenerator(generators.NewLocation(content))
	engine.RegisterGenerator(generators.NewFollowed(social, content, interactions))
	engine.RegisterGenerator(generators.NewExploration(content))
	engine.RegisterGenerator(generators.NewPopularity(content, interactions))

	// Ingest pipeline.
	handler := ingest.NewHandler(interactions, updater, engine, logger)
	pipeline, err := ingest.NewPipeline(cfg.Ingest, handler, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if cfg.NATS.Enabled {
		subscriber, err := ingest.NewNATSSubscriber(cfg.NATS, logger)
		if err != nil {
			return err
		}
		pipeline.AddSource("nats_interactions", subscriber, cfg.NATS.Topic, handler)
		logger.Info().Str("url", cfg.NATS.URL).Str("topic", cfg.NATS.Topic).Msg("nats ingest source attached")
	}

	// HTTP layer.
	apiHandler := api.NewHandler(engine, profiles, pipeline, logger)
	routes := api.NewRouter(apiHandler, cfg.Server.Router)
	server := api.NewServer(cfg.Server, routes, logger)

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(logger), supervisor.DefaultTreeConfig())
	tree.AddProcessingService(supervisor.NewRunnerService("ingest-pipeline", pipeline))
	tree.AddProcessingService(supervisor.NewRunnerService("similarity-refresher", simIndex))
	tree.AddProcessingService(supervisor.NewRunnerService("trending-refresher", trendComputer))
	tree.AddAPIService(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// openAffinityStore selects the configured affinity backend.
func openAffinityStore(cfg *config.Config, logger zerolog.Logger) (affinity.Store, error) { //nolint:gocritic // logger passed by value is acceptable for zerolog
	if cfg.AffinityStore.Backend == "memory" {
		logger.Warn().Msg("in-memory affinity store, affinities will not survive restarts")
		return affinity.NewMemoryStore(cfg.Affinity.DecayPerWeek), nil
	}
	return affinity.OpenBadgerStore(cfg.AffinityStore.Path, cfg.Affinity.DecayPerWeek, logger)
}
