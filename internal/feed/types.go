// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package feed

import (
	"context"
	"time"
)

// ContentType identifies the kind of content item a feed entry refers to.
type ContentType string

const (
	// ContentEvent is a scheduled event (rally, town hall, volunteer shift).
	ContentEvent ContentType = "event"
	// ContentFundraiser is a fundraising campaign.
	ContentFundraiser ContentType = "fundraiser"
	// ContentOrganization is an organization page.
	ContentOrganization ContentType = "organization"
	// ContentPost is a plain content post.
	ContentPost ContentType = "post"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentEvent, ContentFundraiser, ContentOrganization, ContentPost:
		return true
	default:
		return false
	}
}

// ContentRef is the tagged identity of a content item. The engine never
// needs type-specific fields beyond the common metadata subset, so a
// (type, id) pair is the universal currency between components.
type ContentRef struct {
	Type ContentType `json:"content_type"`
	ID   string      `json:"content_id"`
}

// Key returns the canonical merge key for the reference.
func (r ContentRef) Key() string {
	return string(r.Type) + ":" + r.ID
}

// InteractionType classifies user interaction events.
type InteractionType string

const (
	InteractionView         InteractionType = "view"
	InteractionLike         InteractionType = "like"
	InteractionShare        InteractionType = "share"
	InteractionComment      InteractionType = "comment"
	InteractionBookmark     InteractionType = "bookmark"
	InteractionAttend       InteractionType = "attend"
	InteractionInterest     InteractionType = "interest"
	InteractionFollow       InteractionType = "follow"
	InteractionDonate       InteractionType = "donate"
	InteractionRegister     InteractionType = "register"
	InteractionClickThrough InteractionType = "click_through"
)

// Weight returns the base affinity weight for this interaction type.
// Calibrated so that no single view meaningfully moves a score but a
// donation does.
func (t InteractionType) Weight() float64 {
	switch t {
	case InteractionView:
		return 0.01
	case InteractionClickThrough:
		return 0.02
	case InteractionLike:
		return 0.03
	case InteractionComment:
		return 0.04
	case InteractionShare:
		return 0.05
	case InteractionBookmark:
		return 0.06
	case InteractionInterest:
		return 0.06
	case InteractionRegister:
		return 0.07
	case InteractionFollow:
		return 0.08
	case InteractionAttend:
		return 0.09
	case InteractionDonate:
		return 0.10
	default:
		return 0
	}
}

// Significant reports whether the interaction should proactively
// invalidate cached profiles and feeds rather than waiting for TTL
// expiry.
func (t InteractionType) Significant() bool {
	switch t {
	case InteractionDonate, InteractionAttend, InteractionFollow, InteractionBookmark:
		return true
	default:
		return false
	}
}

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	return t.Weight() > 0
}

// Interaction is a single user interaction event. Interactions are
// append-only and immutable once written; they are the only durable
// source of truth for all derived state.
type Interaction struct {
	// ID is the event identifier, used as the idempotency key for
	// at-least-once delivery from the interaction log.
	ID string `json:"id"`

	// UserID is the interacting user.
	UserID string `json:"user_id"`

	// Content is the content item interacted with.
	Content ContentRef `json:"content"`

	// Type classifies the interaction.
	Type InteractionType `json:"interaction_type"`

	// TimeSpentSeconds is how long the user spent on the content.
	TimeSpentSeconds int `json:"time_spent,omitempty"`

	// ScrollDepth is how far the user scrolled (0-1).
	ScrollDepth float64 `json:"scroll_depth,omitempty"`

	// CreatedAt is when the interaction occurred.
	CreatedAt time.Time `json:"created_at"`
}

// TagAssignment is a weighted tag attached to a content item.
type TagAssignment struct {
	TagID string `json:"tag_id"`

	// Relevance is how strongly the tag applies to the content (0-1).
	Relevance float64 `json:"relevance"`
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ContentMetadata is the common metadata subset the ranking core needs.
// Only published/active content is eligible for feeds.
type ContentMetadata struct {
	Ref            ContentRef `json:"ref"`
	CreatedAt      time.Time  `json:"created_at"`
	Location       *GeoPoint  `json:"location,omitempty"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Status         string     `json:"status"`

	// StartsAt is set for events; used for temporal relevance boosts.
	StartsAt *time.Time `json:"starts_at,omitempty"`
}

// Eligible reports whether the content may appear in feeds.
func (m ContentMetadata) Eligible() bool {
	return m.Status == "published" || m.Status == "active"
}

// Trend describes the direction of a user's interest in a tag. It is a
// display/explanation signal only, never a ranking multiplier.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// TagAffinity is a user's learned interest strength in a single tag.
// Scores are bounded in [0,1]; updates clamp, never overflow.
type TagAffinity struct {
	TagID string `json:"tag_id"`

	// Score is the stored (undecayed) affinity.
	Score float64 `json:"score"`

	InteractionCount  int       `json:"interaction_count"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	Trend             Trend     `json:"trend"`
}

// EngagementPattern summarizes when a user is active.
type EngagementPattern struct {
	// PeakHours are the hours of day (0-23) with the most interactions.
	PeakHours []int `json:"peak_hours"`

	// PeakDays are the weekdays with the most interactions.
	PeakDays []time.Weekday `json:"peak_days"`

	// AvgSessionSeconds is the mean time spent per interaction.
	AvgSessionSeconds float64 `json:"avg_session_seconds"`
}

// UserProfile is the cached aggregate of a user's derived interest
// state. A cold-start user gets an empty profile, never an error.
type UserProfile struct {
	UserID string `json:"user_id"`

	// TopTags are the highest-affinity tags by decayed score.
	TopTags []TagAffinity `json:"top_tags"`

	// ContentTypePrefs is the share of weighted interactions per
	// content type, normalized to sum 1.
	ContentTypePrefs map[ContentType]float64 `json:"content_type_prefs"`

	Engagement EngagementPattern `json:"engagement"`
	BuiltAt    time.Time         `json:"built_at"`
}

// Empty reports whether the profile carries no personalization signal.
func (p *UserProfile) Empty() bool {
	return p == nil || len(p.TopTags) == 0
}

// AffinityFor returns the decayed affinity for a tag from the profile's
// top-tag list, or 0 if absent.
func (p *UserProfile) AffinityFor(tagID string) float64 {
	if p == nil {
		return 0
	}
	for _, ta := range p.TopTags {
		if ta.TagID == tagID {
			return ta.Score
		}
	}
	return 0
}

// Candidate is a scored content item emitted by a single generator.
type Candidate struct {
	Content ContentRef `json:"content"`

	// RawScore is the generator-local score, normalized to [0,1].
	RawScore float64 `json:"raw_score"`

	// Source is the emitting generator's name.
	Source string `json:"source"`

	// Reasons are human-readable explanations for the candidate.
	Reasons []string `json:"reasons,omitempty"`
}

// FeedItem is a ranked feed entry. Transient: never persisted beyond
// the response cache.
type FeedItem struct {
	Content ContentRef `json:"content"`

	// Score is the final weighted score.
	Score float64 `json:"score"`

	// Breakdown maps scoring factor to its weighted contribution.
	Breakdown map[string]float64 `json:"score_breakdown,omitempty"`

	// Sources are the generators that emitted the item.
	Sources []string `json:"sources,omitempty"`

	Reasons  []string `json:"reasons,omitempty"`
	Position int      `json:"position"`

	// OrganizationID is carried for diversity capping.
	OrganizationID string `json:"organization_id,omitempty"`

	// CreatedAt is carried for deterministic tie-breaking.
	CreatedAt time.Time `json:"-"`
}

// UserContext is request-scoped context supplied by the caller.
type UserContext struct {
	Location   *GeoPoint `json:"location,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`

	// RecentContentTypes are content types the user saw very recently
	// in this session, used for the diversity penalty.
	RecentContentTypes []ContentType `json:"recent_content_types,omitempty"`
}

// SimilarUser is a collaborative-filtering neighbor.
type SimilarUser struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	SharedTags int     `json:"shared_tag_count"`
}

// TrendingItem is a content item with its windowed trending score.
type TrendingItem struct {
	Content      ContentRef `json:"content"`
	Score        float64    `json:"score"`
	Interactions int        `json:"interactions"`
	UniqueUsers  int        `json:"unique_users"`
}

// FeedRequest is a request for a feed page.
type FeedRequest struct {
	UserID string `json:"user_id" validate:"required"`

	// ContentTypes optionally restricts the feed to the given types.
	ContentTypes []ContentType `json:"content_types,omitempty"`

	Limit  int    `json:"limit,omitempty" validate:"gte=0,lte=100"`
	Cursor string `json:"cursor,omitempty"`

	Context *UserContext `json:"context,omitempty"`

	// RequestID is a unique identifier for tracing.
	RequestID string `json:"request_id,omitempty"`
}

// FeedResponse is one page of a generated feed.
type FeedResponse struct {
	Items      []FeedItem   `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
	Metadata   FeedMetadata `json:"metadata"`
}

// FeedMetadata carries timing and diagnostic information.
type FeedMetadata struct {
	RequestID      string    `json:"request_id"`
	UserID         string    `json:"user_id"`
	GeneratorsUsed []string  `json:"generators_used"`
	TotalRanked    int       `json:"total_ranked"`
	Generation     uint64    `json:"generation"`
	CacheHit       bool      `json:"cache_hit"`
	LatencyMS      int64     `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// GeneratorRequest is the shared input to all candidate generators.
type GeneratorRequest struct {
	UserID  string
	Profile *UserProfile
	Context *UserContext

	// Limit is the maximum number of candidates to emit.
	Limit int

	// Now anchors all time-relative computation for determinism.
	Now time.Time
}

// Generator is a single candidate-generation strategy. Generators are
// independent, read-only, and never communicate with each other.
type Generator interface {
	// Name returns the generator identifier (e.g. "tag_affinity").
	Name() string

	// Generate emits scored candidates for the request. An empty
	// result is not an error; cold-start users simply get nothing
	// from personalized generators.
	Generate(ctx context.Context, req GeneratorRequest) ([]Candidate, error)
}
