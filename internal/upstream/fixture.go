// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/civicstream/feedengine/internal/feed"
)

// Fixture is an in-memory implementation of the collaborator
// interfaces, used in tests and for standalone development runs
// without a platform backend.
type Fixture struct {
	mu       sync.RWMutex
	metas    map[string]feed.ContentMetadata
	tags     map[string][]feed.TagAssignment
	follows  map[string][]string
	contexts map[string]*feed.UserContext
}

// NewFixture creates an empty Fixture.
func NewFixture() *Fixture {
	return &Fixture{
		metas:    make(map[string]feed.ContentMetadata),
		tags:     make(map[string][]feed.TagAssignment),
		follows:  make(map[string][]string),
		contexts: make(map[string]*feed.UserContext),
	}
}

// AddContent registers a content item with its tags.
//
//nolint:gocritic // hugeParam: meta copied for immutability
func (f *Fixture) AddContent(meta feed.ContentMetadata, tags []feed.TagAssignment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metas[meta.Ref.Key()] = meta
	f.tags[meta.Ref.Key()] = tags
}

// SetFollows registers a user's followed organizations.
func (f *Fixture) SetFollows(userID string, orgIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follows[userID] = orgIDs
}

// SetUserContext registers a user's request context.
func (f *Fixture) SetUserContext(userID string, uc *feed.UserContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts[userID] = uc
}

// GetContentTags implements feed.ContentProvider.
func (f *Fixture) GetContentTags(_ context.Context, ref feed.ContentRef) ([]feed.TagAssignment, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tags, ok := f.tags[ref.Key()]
	if !ok {
		return nil, feed.ErrContentNotFound
	}
	return tags, nil
}

// GetContentMetadata implements feed.ContentProvider.
func (f *Fixture) GetContentMetadata(_ context.Context, ref feed.ContentRef) (feed.ContentMetadata, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	meta, ok := f.metas[ref.Key()]
	if !ok {
		return feed.ContentMetadata{}, feed.ErrContentNotFound
	}
	return meta, nil
}

// ListRecentContent implements feed.ContentProvider.
func (f *Fixture) ListRecentContent(_ context.Context, since time.Time, types []feed.ContentType) ([]feed.ContentMetadata, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []feed.ContentMetadata
	for _, meta := range f.metas {
		if meta.CreatedAt.Before(since) {
			continue
		}
		if len(types) > 0 && !typeIn(types, meta.Ref.Type) {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// ListContentByTags implements feed.ContentProvider.
func (f *Fixture) ListContentByTags(_ context.Context, tagIDs []string) ([]feed.TaggedContent, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	want := make(map[string]struct{}, len(tagIDs))
	for _, id := range tagIDs {
		want[id] = struct{}{}
	}

	var out []feed.TaggedContent
	for key, tags := range f.tags {
		for _, tag := range tags {
			if _, ok := want[tag.TagID]; ok {
				out = append(out, feed.TaggedContent{Meta: f.metas[key], Tags: tags})
				break
			}
		}
	}
	return out, nil
}

// GetFollowedOrganizations implements feed.SocialProvider.
func (f *Fixture) GetFollowedOrganizations(_ context.Context, userID string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.follows[userID], nil
}

// GetUserContext implements feed.ContextProvider.
func (f *Fixture) GetUserContext(_ context.Context, userID string) (*feed.UserContext, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.contexts[userID], nil
}

func typeIn(types []feed.ContentType, t feed.ContentType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

var (
	_ feed.ContentProvider = (*Fixture)(nil)
	_ feed.SocialProvider  = (*Fixture)(nil)
	_ feed.ContextProvider = (*Fixture)(nil)
)
