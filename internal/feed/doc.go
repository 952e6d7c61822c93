// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package feed defines the core feed domain types and the engine that
// blends candidate generators into a ranked, cached, paginated feed.
//
// The engine fans out independent candidate generators in parallel,
// merges their output by content identity, ranks with configurable
// factor weights, applies diversity caps, and caches the full ranked
// list per user. Cursors are opaque offsets bound to one cache
// generation; invalidating a generation (on significant interactions)
// expires every outstanding cursor for that user.
//
// Aside from metrics, this package has no dependencies on other
// internal packages. The provider interfaces in providers.go decouple
// it from the affinity, similarity, trending, store and upstream
// packages.
package feed
