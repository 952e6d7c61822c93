// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package feed

import (
	"context"
	"errors"
	"time"
)

// Note: these interfaces describe the engine's external collaborators.
// The engine consumes them read-only; implementations live in the
// upstream and store packages to keep this package dependency-free.

// ErrContentNotFound is returned by providers when a referenced content
// item does not exist. Feed generation skips the item and continues.
var ErrContentNotFound = errors.New("content not found")

// ContentProvider exposes the externally owned tag and content index.
type ContentProvider interface {
	// GetContentTags returns the weighted tag assignments for a
	// content item.
	GetContentTags(ctx context.Context, ref ContentRef) ([]TagAssignment, error)

	// GetContentMetadata returns the common metadata subset for a
	// content item.
	GetContentMetadata(ctx context.Context, ref ContentRef) (ContentMetadata, error)

	// ListRecentContent returns eligible content created since the
	// given time, optionally restricted to types.
	ListRecentContent(ctx context.Context, since time.Time, types []ContentType) ([]ContentMetadata, error)

	// ListContentByTags returns eligible content carrying any of the
	// given tags, with their assignments.
	ListContentByTags(ctx context.Context, tagIDs []string) ([]TaggedContent, error)
}

// TaggedContent pairs content metadata with its tag assignments.
type TaggedContent struct {
	Meta ContentMetadata `json:"meta"`
	Tags []TagAssignment `json:"tags"`
}

// SocialProvider exposes follow relationships owned upstream.
type SocialProvider interface {
	// GetFollowedOrganizations returns the organization IDs the user
	// explicitly follows.
	GetFollowedOrganizations(ctx context.Context, userID string) ([]string, error)
}

// ContextProvider resolves per-user request context (location, device).
type ContextProvider interface {
	GetUserContext(ctx context.Context, userID string) (*UserContext, error)
}

// ProfileSource supplies user profiles to the engine and generators.
// Implemented by the affinity package's profile builder.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string, forceRefresh bool) (*UserProfile, error)

	// Invalidate drops any cached profile for the user.
	Invalidate(userID string)
}

// InteractionReader exposes read access to the interaction log for
// candidate generation and freshness filtering.
type InteractionReader interface {
	// ListByUserSince returns the user's interactions at or after the
	// given time, most recent first.
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]Interaction, error)

	// ListByUsersSince returns interactions by any of the given users
	// at or after the given time.
	ListByUsersSince(ctx context.Context, userIDs []string, since time.Time) ([]Interaction, error)

	// ListSince returns all interactions at or after the given time.
	ListSince(ctx context.Context, since time.Time) ([]Interaction, error)
}

// SimilaritySource exposes the collaborative-filtering neighbor index.
type SimilaritySource interface {
	FindSimilarUsers(userID string, limit int) []SimilarUser
}

// TrendingSource exposes the current trending snapshot.
type TrendingSource interface {
	// Trending returns the current trending items, highest score
	// first. May be stale by up to the trending refresh interval.
	Trending(limit int) []TrendingItem
}
