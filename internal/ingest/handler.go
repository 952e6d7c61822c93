// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package ingest

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/metrics"
)

// InteractionAppender persists raw interactions. Implemented by the
// store package.
type InteractionAppender interface {
	Append(ctx context.Context, in feed.Interaction) error
}

// AffinityApplier folds interactions into affinity state. Implemented
// by the affinity updater.
type AffinityApplier interface {
	Apply(ctx context.Context, in feed.Interaction) error
}

// Invalidator drops cached feeds and profiles for a user. Implemented
// by the feed engine.
type Invalidator interface {
	Invalidate(userID string)
}

// Handler processes one interaction event end to end: durable append,
// affinity update, then cache invalidation for significant types.
type Handler struct {
	appender    InteractionAppender
	affinity    AffinityApplier
	invalidator Invalidator
	serializer  *Serializer
	logger      zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(appender InteractionAppender, affinity AffinityApplier, invalidator Invalidator, logger zerolog.Logger) *Handler {
	return &Handler{
		appender:    appender,
		affinity:    affinity,
		invalidator: invalidator,
		serializer:  NewSerializer(),
		logger:      logger.With().Str("component", "ingest_handler").Logger(),
	}
}

// Handle is the router handler func for TopicInteractions. Malformed
// payloads are dropped with a log line, never retried: redelivering a
// message that cannot parse only clogs the pipeline. Storage errors
// are returned so the router's retry middleware takes over.
func (h *Handler) Handle(msg *message.Message) error {
	in, err := h.serializer.Unmarshal(msg.Payload)
	if err != nil {
		h.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed interaction event")
		metrics.IngestDropped.Inc()
		return nil
	}

	ctx := msg.Context()

	if err := h.appender.Append(ctx, *in); err != nil {
		metrics.IngestFailed.Inc()
		return fmt.Errorf("append interaction %s: %w", in.ID, err)
	}

	if err := h.affinity.Apply(ctx, *in); err != nil {
		metrics.IngestFailed.Inc()
		return fmt.Errorf("apply interaction %s: %w", in.ID, err)
	}

	if in.Type.Significant() && h.invalidator != nil {
		h.invalidator.Invalidate(in.UserID)
	}

	metrics.IngestProcessed.Inc()
	h.logger.Debug().
		Str("interaction_id", in.ID).
		Str("user_id", in.UserID).
		Str("type", string(in.Type)).
		Msg("interaction processed")
	return nil
}
