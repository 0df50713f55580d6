// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package fanout carries committed events from the ingest path to
// asynchronous consumers (webhook delivery) over Watermill.
//
// The default bus is Watermill's in-process gochannel, so Publish returns
// as soon as the message is queued and slow webhook endpoints never hold
// up an ingest request. Builds with -tags nats can use a JetStream bus
// instead, which survives restarts and spreads delivery across instances.
package fanout

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/models"
)

// Metadata keys set on every message.
const (
	MetadataTenantID      = "tenant_id"
	MetadataEventName     = "event_name"
	MetadataCorrelationID = "correlation_id"
)

// Bus publishes events to a single topic and hands its subscriber to a Consumer.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     watermill.LoggerAdapter
	kind       string

	// shared is true when publisher and subscriber are the same pubsub.
	shared bool
}

// NewLogger returns a Watermill logger writing through zerolog.
func NewLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger().With("component", "watermill"))
}

// NewChannelBus creates an in-process bus.
func NewChannelBus(cfg *config.FanoutConfig) *Bus {
	logger := NewLogger()
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, logger)

	return &Bus{
		publisher:  ch,
		subscriber: ch,
		topic:      cfg.Topic,
		logger:     logger,
		kind:       "gochannel",
		shared:     true,
	}
}

// Topic returns the topic events are published on.
func (b *Bus) Topic() string { return b.topic }

// Kind names the backing transport for logs.
func (b *Bus) Kind() string { return b.kind }

// Publish queues e for consumers. The message UUID is the event id.
func (b *Bus) Publish(ctx context.Context, e *models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		metrics.FanoutPublishErrors.Inc()
		return fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(e.ID.String(), payload)
	msg.Metadata.Set(MetadataTenantID, fmt.Sprintf("%d", e.TenantID))
	msg.Metadata.Set(MetadataEventName, e.Name)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(MetadataCorrelationID, id)
	}

	if err := b.publisher.Publish(b.topic, msg); err != nil {
		metrics.FanoutPublishErrors.Inc()
		return fmt.Errorf("publish to %s: %w", b.topic, err)
	}
	metrics.FanoutPublished.Inc()
	return nil
}

// Close closes the publisher and, when distinct, the subscriber.
func (b *Bus) Close() error {
	var firstErr error
	if err := b.publisher.Close(); err != nil {
		firstErr = err
	}
	if !b.shared {
		if err := b.subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// decodeEvent restores an event from a bus message.
func decodeEvent(msg *message.Message) (*models.Event, error) {
	var e models.Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return &e, nil
}
