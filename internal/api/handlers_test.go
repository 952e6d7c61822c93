// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/civicstream/feedengine/internal/feed"
	"github.com/civicstream/feedengine/internal/ingest"
	"github.com/civicstream/feedengine/internal/logging"
	"github.com/civicstream/feedengine/internal/models"
)

type fakeFeedService struct {
	resp *feed.FeedResponse
	err  error

	mu      sync.Mutex
	lastReq feed.FeedRequest
}

func (f *fakeFeedService) GenerateFeed(_ context.Context, req feed.FeedRequest) (*feed.FeedResponse, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	return f.resp, f.err
}

type fakeProfileService struct {
	profile *feed.UserProfile
	err     error
}

func (f *fakeProfileService) GetProfile(_ context.Context, _ string, _ bool) (*feed.UserProfile, error) {
	return f.profile, f.err
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*feed.Interaction
	err       error
}

func (f *fakePublisher) Publish(in *feed.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, in)
	return nil
}

func newTestRouter(feeds *fakeFeedService, profiles *fakeProfileService, tracker *fakePublisher) http.Handler {
	handler := NewHandler(feeds, profiles, tracker, logging.NewTestLogger(io.Discard))
	return NewRouter(handler, DefaultRouterConfig())
}

func decodeEnvelope(t *testing.T, body io.Reader) models.APIResponse {
	t.Helper()
	var envelope models.APIResponse
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func TestFeedEndpoint(t *testing.T) {
	feeds := &fakeFeedService{
		resp: &feed.FeedResponse{
			Items: []feed.FeedItem{
				{Content: feed.ContentRef{Type: feed.ContentEvent, ID: "e1"}, Score: 0.9},
			},
			Metadata: feed.FeedMetadata{UserID: "u1", Generation: 3},
		},
	}
	router := newTestRouter(feeds, &fakeProfileService{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed",
		strings.NewReader(`{"user_id":"u1","limit":20}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	envelope := decodeEnvelope(t, rec.Body)
	if envelope.Status != "success" {
		t.Errorf("status = %q", envelope.Status)
	}
	if envelope.Metadata.RequestID == "" {
		t.Error("request id not assigned")
	}

	feeds.mu.Lock()
	defer feeds.mu.Unlock()
	if feeds.lastReq.UserID != "u1" || feeds.lastReq.Limit != 20 {
		t.Errorf("engine request = %+v", feeds.lastReq)
	}
}

func TestFeedEndpointRejectsInvalidBody(t *testing.T) {
	router := newTestRouter(&fakeFeedService{}, &fakeProfileService{}, &fakePublisher{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"user_id":`},
		{"missing user", `{"limit":10}`},
		{"limit too large", `{"user_id":"u1","limit":500}`},
		{"unknown content type", `{"user_id":"u1","content_types":["banana"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/feed", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			envelope := decodeEnvelope(t, rec.Body)
			if envelope.Error == nil || envelope.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("error = %+v", envelope.Error)
			}
		})
	}
}

func TestFeedEndpointCursorExpired(t *testing.T) {
	feeds := &fakeFeedService{err: feed.ErrCursorExpired}
	router := newTestRouter(feeds, &fakeProfileService{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed",
		strings.NewReader(`{"user_id":"u1","cursor":"stale"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
	envelope := decodeEnvelope(t, rec.Body)
	if envelope.Error == nil || envelope.Error.Code != "CURSOR_EXPIRED" {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestFeedEndpointInternalError(t *testing.T) {
	feeds := &fakeFeedService{err: errors.New("snapshot unavailable")}
	router := newTestRouter(feeds, &fakeProfileService{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed",
		strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	envelope := decodeEnvelope(t, rec.Body)
	if envelope.Error == nil || envelope.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestTrackEndpoint(t *testing.T) {
	tracker := &fakePublisher{}
	router := newTestRouter(&fakeFeedService{}, &fakeProfileService{}, tracker)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions/track",
		strings.NewReader(`{"user_id":"u1","content_type":"event","content_id":"e1","interaction_type":"attend","time_spent":45}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.published) != 1 {
		t.Fatalf("published %d interactions", len(tracker.published))
	}
	in := tracker.published[0]
	if in.ID == "" {
		t.Error("interaction id not assigned")
	}
	if in.UserID != "u1" || in.Type != feed.InteractionAttend || in.TimeSpentSeconds != 45 {
		t.Errorf("interaction = %+v", in)
	}
	if in.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestTrackEndpointRejectsIncompleteEvent(t *testing.T) {
	tracker := &fakePublisher{}
	router := newTestRouter(&fakeFeedService{}, &fakeProfileService{}, tracker)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions/track",
		strings.NewReader(`{"user_id":"u1","content_type":"event"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.published) != 0 {
		t.Errorf("rejected event was published")
	}
}

func TestTrackEndpointDistinguishesPublishFailures(t *testing.T) {
	trackBody := `{"user_id":"u1","content_type":"event","content_id":"e1","interaction_type":"attend"}`

	tests := []struct {
		name       string
		publishErr error
		wantStatus int
		wantCode   string
	}{
		{"serializer rejection", fmt.Errorf("%w: missing created_at", ingest.ErrInvalidInteraction), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"pipeline failure", errors.New("pub/sub closed"), http.StatusServiceUnavailable, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeFeedService{}, &fakeProfileService{}, &fakePublisher{err: tt.publishErr})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions/track", strings.NewReader(trackBody))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			envelope := decodeEnvelope(t, rec.Body)
			if envelope.Error == nil || envelope.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", envelope.Error, tt.wantCode)
			}
		})
	}
}

func TestProfileEndpoint(t *testing.T) {
	profiles := &fakeProfileService{
		profile: &feed.UserProfile{
			UserID: "u1",
			TopTags: []feed.TagAffinity{
				{TagID: "climate", Score: 0.7},
			},
		},
	}
	router := newTestRouter(&fakeFeedService{}, profiles, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile/u1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	envelope := decodeEnvelope(t, rec.Body)
	if envelope.Status != "success" || envelope.Data == nil {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&fakeFeedService{}, &fakeProfileService{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&fakeFeedService{}, &fakeProfileService{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing default collectors")
	}
}
