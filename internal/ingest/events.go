// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package ingest consumes interaction events and folds them into the
// interaction log and affinity store. Delivery is at-least-once; every
// downstream write is idempotent on the interaction ID.
package ingest

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/civicstream/feedengine/internal/feed"
)

// TopicInteractions is the interaction event topic.
const TopicInteractions = "interactions.tracked"

// TopicPoison receives events that permanently failed processing.
const TopicPoison = "interactions.poison"

// ErrInvalidInteraction marks interactions rejected by validation.
// Distinguishes caller mistakes from pipeline failures at the API
// boundary.
var ErrInvalidInteraction = errors.New("invalid interaction")

// Serializer handles interaction encoding/decoding for the event bus.
type Serializer struct{}

// NewSerializer creates a Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts an interaction to JSON bytes, validating first.
func (s *Serializer) Marshal(in *feed.Interaction) ([]byte, error) {
	if err := validate(in); err != nil {
		return nil, fmt.Errorf("validate interaction: %w", err)
	}

	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal interaction: %w", err)
	}
	return data, nil
}

// Unmarshal converts JSON bytes to an interaction, validating after.
func (s *Serializer) Unmarshal(data []byte) (*feed.Interaction, error) {
	var in feed.Interaction
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("unmarshal interaction: %w", err)
	}
	if err := validate(&in); err != nil {
		return nil, fmt.Errorf("validate interaction: %w", err)
	}
	return &in, nil
}

func validate(in *feed.Interaction) error {
	switch {
	case in.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidInteraction)
	case in.UserID == "":
		return fmt.Errorf("%w: missing user_id", ErrInvalidInteraction)
	case !in.Content.Type.Valid():
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidInteraction, in.Content.Type)
	case in.Content.ID == "":
		return fmt.Errorf("%w: missing content id", ErrInvalidInteraction)
	case !in.Type.Valid():
		return fmt.Errorf("%w: unknown interaction type %q", ErrInvalidInteraction, in.Type)
	case in.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing created_at", ErrInvalidInteraction)
	default:
		return nil
	}
}
