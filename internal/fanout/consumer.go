// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/models"
)

// EventHandler receives every published event. *webhook.Dispatcher
// satisfies it.
type EventHandler interface {
	OnEvent(ctx context.Context, e *models.Event) int
}

const defaultWorkers = 8

// Consumer routes bus messages to an EventHandler through a Watermill router.
// Up to workers events are handled at once; a message is acked once a
// worker has taken it, and the router blocks while all workers are busy.
type Consumer struct {
	bus          *Bus
	handler      EventHandler
	name         string
	closeTimeout time.Duration

	slots    chan struct{}
	inflight sync.WaitGroup
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithWorkers sets the number of concurrent handlers. Values below 1 are
// ignored.
func WithWorkers(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 1 {
			c.slots = make(chan struct{}, n)
		}
	}
}

// NewConsumer creates a consumer named name.
func NewConsumer(bus *Bus, handler EventHandler, name string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		bus:          bus,
		handler:      handler,
		name:         name,
		closeTimeout: 10 * time.Second,
		slots:        make(chan struct{}, defaultWorkers),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run builds a router and blocks until ctx is canceled. A fresh router is
// built on every call so a supervisor can restart the consumer.
func (c *Consumer) Run(ctx context.Context) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: c.closeTimeout}, c.bus.logger)
	if err != nil {
		return fmt.Errorf("create watermill router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	router.AddNoPublisherHandler(c.name, c.bus.topic, c.bus.subscriber, c.handle)

	logging.Info().
		Str("consumer", c.name).
		Str("topic", c.bus.topic).
		Str("bus", c.bus.kind).
		Int("workers", cap(c.slots)).
		Msg("Fan-out consumer starting")

	err = router.Run(ctx)
	c.inflight.Wait()
	if err != nil {
		return fmt.Errorf("fan-out router: %w", err)
	}
	return ctx.Err()
}

// handle never returns an error for delivery failures: the dispatcher
// already retried, and redelivery would repeat webhooks that succeeded.
func (c *Consumer) handle(msg *message.Message) error {
	e, err := decodeEvent(msg)
	if err != nil {
		logging.Error().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable fan-out message")
		return nil
	}

	ctx := context.WithoutCancel(msg.Context())
	if id := msg.Metadata.Get(MetadataCorrelationID); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}

	select {
	case c.slots <- struct{}{}:
	case <-msg.Context().Done():
		return msg.Context().Err()
	}
	c.inflight.Add(1)
	go c.work(ctx, e)
	return nil
}

func (c *Consumer) work(ctx context.Context, e *models.Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Interface("panic", r).
				Str("event_id", e.ID.String()).
				Msg("Fan-out handler panicked")
		}
		<-c.slots
		c.inflight.Done()
	}()

	c.handler.OnEvent(ctx, e)
	metrics.FanoutConsumed.Inc()
}

// String names the consumer in supervisor logs.
func (c *Consumer) String() string {
	return "fanout-" + c.name
}
