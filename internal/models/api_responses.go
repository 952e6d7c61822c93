// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package models defines the API response envelope shared by all HTTP
// endpoints.
package models

import (
	"time"
)

// APIResponse is the standard response wrapper for every endpoint.
//
// Status is "success" or "error"; Error is populated only for the
// latter.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries per-response observability fields.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	Cached    bool      `json:"cached,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError is a structured error payload.
//
// Common codes: VALIDATION_ERROR, CURSOR_EXPIRED, NOT_FOUND,
// RATE_LIMIT_EXCEEDED, INTERNAL_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Success builds a success envelope.
func Success(data interface{}, meta Metadata) APIResponse {
	meta.Timestamp = time.Now().UTC()
	return APIResponse{Status: "success", Data: data, Metadata: meta}
}

// Error builds an error envelope.
func Error(code, message string, details map[string]interface{}) APIResponse {
	return APIResponse{
		Status:   "error",
		Metadata: Metadata{Timestamp: time.Now().UTC()},
		Error:    &APIError{Code: code, Message: message, Details: details},
	}
}
