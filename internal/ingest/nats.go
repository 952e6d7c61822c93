// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package ingest

import (
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig controls the optional JetStream interaction source, used
// when the upstream platform publishes interaction events to NATS
// instead of (or in addition to) the HTTP track endpoint.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// Topic is the JetStream subject carrying interaction events.
	Topic string `koanf:"topic"`

	// QueueGroup load-balances consumption across engine instances.
	QueueGroup string `koanf:"queue_group"`

	// DurableName makes consumption resumable across restarts.
	DurableName string `koanf:"durable_name"`

	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
}

// DefaultNATSConfig returns production defaults (disabled).
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Enabled:        false,
		URL:            natsgo.DefaultURL,
		Topic:          "civicstream.interactions",
		QueueGroup:     "feedengine",
		DurableName:    "feedengine-ingest",
		AckWaitTimeout: 30 * time.Second,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
	}
}

// NewNATSSubscriber creates a durable JetStream subscriber for the
// interaction subject.
//
//nolint:gocritic // hugeParam: config copied for immutability
func NewNATSSubscriber(config NATSConfig, logger zerolog.Logger) (message.Subscriber, error) {
	wmLogger := watermillAdapter{logger: logger.With().Str("component", "ingest_nats").Logger()}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(config.MaxReconnects),
		natsgo.ReconnectWait(config.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats subscriber disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats subscriber reconnected")
		}),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              config.URL,
		QueueGroupPrefix: config.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   config.AckWaitTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
			DurablePrefix: config.DurableName,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.AckWait(config.AckWaitTimeout),
				natsgo.DeliverNew(),
			},
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}
	return sub, nil
}
