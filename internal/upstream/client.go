// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package upstream implements the engine's read-only collaborator
// interfaces against the platform's content service over HTTP. The
// engine never mutates upstream state; every call here is a query.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/metrics"
)

// Config controls the upstream HTTP client.
type Config struct {
	// BaseURL is the content service root, e.g.
	// "https://platform.internal/api/v1".
	BaseURL string `koanf:"base_url" validate:"required,url"`

	Timeout    time.Duration `koanf:"timeout"`
	RetryCount int           `koanf:"retry_count"`

	// Circuit breaker settings.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:                 5 * time.Second,
		RetryCount:              2,
		BreakerFailureThreshold: 5,
		BreakerTimeout:          30 * time.Second,
	}
}

// Client is the HTTP implementation of the collaborator interfaces.
// All calls go through a shared circuit breaker: when the content
// service is down, feed generation degrades to cached and snapshot
// data instead of stacking up timeouts.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  zerolog.Logger
}

// NewClient creates an upstream client.
//
//nolint:gocritic // hugeParam: config copied for immutability
func NewClient(config Config, logger zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "upstream-content",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailureThreshold
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		logger:  logger.With().Str("component", "upstream_client").Logger(),
	}
}

// get performs a circuit-protected GET and returns the response body.
func (c *Client) get(ctx context.Context, operation, path string, query map[string]string) ([]byte, error) {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req := c.http.R().SetContext(ctx)
		if query != nil {
			req.SetQueryParams(query)
		}
		resp, err := req.Get(path)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", path, err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, feed.ErrContentNotFound
		}
		if resp.IsError() {
			return nil, fmt.Errorf("get %s: status %d", path, resp.StatusCode())
		}
		return resp.Body(), nil
	})

	metrics.UpstreamLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		metrics.UpstreamRequests.WithLabelValues(operation, "ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.UpstreamRequests.WithLabelValues(operation, "open_circuit").Inc()
	default:
		metrics.UpstreamRequests.WithLabelValues(operation, "error").Inc()
	}
	return body, err
}

// GetContentTags implements feed.ContentProvider.
func (c *Client) GetContentTags(ctx context.Context, ref feed.ContentRef) ([]feed.TagAssignment, error) {
	body, err := c.get(ctx, "get_content_tags",
		fmt.Sprintf("/content/%s/%s/tags", ref.Type, ref.ID), nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Tags []feed.TagAssignment `json:"tags"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode content tags: %w", err)
	}
	return out.Tags, nil
}

// GetContentMetadata implements feed.ContentProvider.
func (c *Client) GetContentMetadata(ctx context.Context, ref feed.ContentRef) (feed.ContentMetadata, error) {
	body, err := c.get(ctx, "get_content_metadata",
		fmt.Sprintf("/content/%s/%s", ref.Type, ref.ID), nil)
	if err != nil {
		return feed.ContentMetadata{}, err
	}

	var meta feed.ContentMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return feed.ContentMetadata{}, fmt.Errorf("decode content metadata: %w", err)
	}
	meta.Ref = ref
	return meta, nil
}

// ListRecentContent implements feed.ContentProvider.
func (c *Client) ListRecentContent(ctx context.Context, since time.Time, types []feed.ContentType) ([]feed.ContentMetadata, error) {
	query := map[string]string{"since": since.UTC().Format(time.RFC3339)}
	if len(types) > 0 {
		query["types"] = joinTypes(types)
	}

	body, err := c.get(ctx, "list_recent_content", "/content/recent", query)
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []feed.ContentMetadata `json:"items"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode recent content: %w", err)
	}
	return out.Items, nil
}

// ListContentByTags implements feed.ContentProvider.
func (c *Client) ListContentByTags(ctx context.Context, tagIDs []string) ([]feed.TaggedContent, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}

	body, err := c.get(ctx, "list_content_by_tags", "/content/by-tags",
		map[string]string{"tags": strings.Join(tagIDs, ",")})
	if err != nil {
		return nil, err
	}

	var out struct {
		Items []feed.TaggedContent `json:"items"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode tagged content: %w", err)
	}
	return out.Items, nil
}

// GetFollowedOrganizations implements feed.SocialProvider.
func (c *Client) GetFollowedOrganizations(ctx context.Context, userID string) ([]string, error) {
	body, err := c.get(ctx, "get_followed_organizations",
		fmt.Sprintf("/users/%s/follows", userID), nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		OrganizationIDs []string `json:"organization_ids"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode followed organizations: %w", err)
	}
	return out.OrganizationIDs, nil
}

// GetUserContext implements feed.ContextProvider.
func (c *Client) GetUserContext(ctx context.Context, userID string) (*feed.UserContext, error) {
	body, err := c.get(ctx, "get_user_context",
		fmt.Sprintf("/users/%s/context", userID), nil)
	if err != nil {
		return nil, err
	}

	var uc feed.UserContext
	if err := json.Unmarshal(body, &uc); err != nil {
		return nil, fmt.Errorf("decode user context: %w", err)
	}
	return &uc, nil
}

func joinTypes(types []feed.ContentType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

var (
	_ feed.ContentProvider = (*Client)(nil)
	_ feed.SocialProvider  = (*Client)(nil)
	_ feed.ContextProvider = (*Client)(nil)
)
