// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/civicstream/feedengine/internal/feed"
)

// Config controls the ingest router.
type Config struct {
	// CloseTimeout bounds handler drain time on shutdown.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// Retry backoff for transient downstream failures.
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`

	// OutputBuffer is the in-process channel depth between the track
	// endpoint and the processing handler.
	OutputBuffer int64 `koanf:"output_buffer"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		OutputBuffer:         1024,
	}
}

// Pipeline owns the in-process pub/sub channel and the processing
// router. The API publishes tracked interactions into it; the handler
// consumes them asynchronously, so tracking stays fire-and-forget for
// callers.
type Pipeline struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger zerolog.Logger
}

// NewPipeline wires the pub/sub channel, middleware stack, and handler.
//
//nolint:gocritic // hugeParam: config copied for immutability
func NewPipeline(config Config, handler *Handler, logger zerolog.Logger) (*Pipeline, error) {
	wmLogger := watermillAdapter{logger: logger.With().Str("component", "ingest_router").Logger()}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            config.OutputBuffer,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: config.CloseTimeout}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create ingest router: %w", err)
	}

	// Middleware, outer to inner: recover panics, route permanent
	// failures to the poison topic, retry transient ones.
	router.AddMiddleware(middleware.Recoverer)

	poison, err := middleware.PoisonQueue(pubsub, TopicPoison)
	if err != nil {
		return nil, fmt.Errorf("create poison queue: %w", err)
	}
	router.AddMiddleware(poison)

	router.AddMiddleware(middleware.Retry{
		MaxRetries:      config.RetryMaxRetries,
		InitialInterval: config.RetryInitialInterval,
		MaxInterval:     config.RetryMaxInterval,
		Multiplier:      2.0,
		Logger:          wmLogger,
	}.Middleware)

	router.AddNoPublisherHandler(
		"interaction_processor",
		TopicInteractions,
		pubsub,
		handler.Handle,
	)

	return &Pipeline{
		pubsub: pubsub,
		router: router,
		logger: logger.With().Str("component", "ingest_pipeline").Logger(),
	}, nil
}

// AddSource attaches an additional subscriber (e.g. a NATS JetStream
// consumer) feeding the same processing handler. Must be called before
// Run.
func (p *Pipeline) AddSource(name string, subscriber message.Subscriber, topic string, handler *Handler) {
	p.router.AddNoPublisherHandler(name, topic, subscriber, handler.Handle)
}

// Publish enqueues a tracked interaction for asynchronous processing.
func (p *Pipeline) Publish(in *feed.Interaction) error {
	data, err := NewSerializer().Marshal(in)
	if err != nil {
		return err
	}

	msg := message.NewMessage(in.ID, data)
	if err := p.pubsub.Publish(TopicInteractions, msg); err != nil {
		return fmt.Errorf("publish interaction %s: %w", in.ID, err)
	}
	return nil
}

// Run processes events until ctx is canceled. Blocks.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.router.Run(ctx)
}

// Running returns a channel closed once the router is running.
func (p *Pipeline) Running() <-chan struct{} {
	return p.router.Running()
}

// Close shuts down the router and the pub/sub channel.
func (p *Pipeline) Close() error {
	if err := p.router.Close(); err != nil {
		return fmt.Errorf("close ingest router: %w", err)
	}
	return p.pubsub.Close()
}

// watermillAdapter bridges watermill's logger to zerolog.
type watermillAdapter struct {
	logger zerolog.Logger
}

func (a watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.logger.Error().Err(err), msg, fields)
}

func (a watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.logger.Info(), msg, fields)
}

func (a watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.logger.Debug(), msg, fields)
}

func (a watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.logger.Trace(), msg, fields)
}

func (a watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	child := a.logger.With()
	for k, v := range fields {
		child = child.Interface(k, v)
	}
	return watermillAdapter{logger: child.Logger()}
}

func (a watermillAdapter) event(e *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

var _ watermill.LoggerAdapter = watermillAdapter{}
