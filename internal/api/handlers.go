// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package api provides the HTTP serving boundary using Chi.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/ingest"
	"github.com/civicstream/feedengine/internal/metrics"
	"github.com/civicstream/feedengine/internal/models"
)

// FeedService generates feed pages. Implemented by the feed engine.
type FeedService interface {
	GenerateFeed(ctx context.Context, req feed.FeedRequest) (*feed.FeedResponse, error)
}

// ProfileService serves user profiles for the debug endpoint.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string, forceRefresh bool) (*feed.UserProfile, error)
}

// TrackPublisher enqueues interactions for asynchronous processing.
type TrackPublisher interface {
	Publish(in *feed.Interaction) error
}

// Handler carries the HTTP handlers and their dependencies.
type Handler struct {
	feeds    FeedService
	profiles ProfileService
	tracker  TrackPublisher
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(feeds FeedService, profiles ProfileService, tracker TrackPublisher, logger zerolog.Logger) *Handler {
	return &Handler{
		feeds:    feeds,
		profiles: profiles,
		tracker:  tracker,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Feed handles POST /api/v1/feed.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req feed.FeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	for _, t := range req.ContentTypes {
		if !t.Valid() {
			h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown content type",
				map[string]interface{}{"content_type": string(t)})
			return
		}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	resp, err := h.feeds.GenerateFeed(r.Context(), req)
	switch {
	case errors.Is(err, feed.ErrCursorExpired):
		metrics.ObserveFeedRequest("cursor_expired", start)
		h.respondError(w, http.StatusGone, "CURSOR_EXPIRED",
			"cursor references an expired feed generation, restart pagination", nil)
		return
	case err != nil:
		metrics.ObserveFeedRequest("error", start)
		h.logger.Error().Err(err).Str("user_id", req.UserID).Msg("feed generation failed")
		h.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "feed generation failed", nil)
		return
	}

	metrics.ObserveFeedRequest("ok", start)
	h.respondJSON(w, http.StatusOK, models.Success(resp, models.Metadata{
		LatencyMS: time.Since(start).Milliseconds(),
		Cached:    resp.Metadata.CacheHit,
		RequestID: req.RequestID,
	}))
}

// trackRequest is the POST /api/v1/interactions/track payload.
type trackRequest struct {
	UserID           string               `json:"user_id" validate:"required"`
	ContentType      feed.ContentType     `json:"content_type" validate:"required"`
	ContentID        string               `json:"content_id" validate:"required"`
	InteractionType  feed.InteractionType `json:"interaction_type" validate:"required"`
	TimeSpentSeconds int                  `json:"time_spent,omitempty" validate:"gte=0"`
	ScrollDepth      float64              `json:"scroll_depth,omitempty" validate:"gte=0,lte=1"`
}

// Track handles POST /api/v1/interactions/track. Fire-and-forget: the
// event is validated, enqueued, and acknowledged with 202; processing
// happens asynchronously in the ingest pipeline.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	in := &feed.Interaction{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		Content:          feed.ContentRef{Type: req.ContentType, ID: req.ContentID},
		Type:             req.InteractionType,
		TimeSpentSeconds: req.TimeSpentSeconds,
		ScrollDepth:      req.ScrollDepth,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.tracker.Publish(in); err != nil {
		if errors.Is(err, ingest.ErrInvalidInteraction) {
			h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		h.logger.Error().Err(err).Str("user_id", req.UserID).Msg("interaction enqueue failed")
		h.respondError(w, http.StatusServiceUnavailable, "INTERNAL_ERROR", "interaction enqueue failed", nil)
		return
	}

	h.respondJSON(w, http.StatusAccepted, models.Success(map[string]string{
		"interaction_id": in.ID,
	}, models.Metadata{}))
}

// Profile handles GET /api/v1/profile/{userID}. Primarily a debugging
// and explainability endpoint.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "missing user id", nil)
		return
	}
	refresh := r.URL.Query().Get("refresh") == "true"

	profile, err := h.profiles.GetProfile(r.Context(), userID, refresh)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("profile build failed")
		h.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "profile build failed", nil)
		return
	}

	h.respondJSON(w, http.StatusOK, models.Success(profile, models.Metadata{}))
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, models.Success(map[string]string{"status": "ok"}, models.Metadata{}))
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("encode response failed")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	h.respondJSON(w, status, models.Error(code, message, details))
}
