// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/eventpipe/internal/logging"
)

// Runner matches *fanout.Consumer.
type Runner interface {
	Run(ctx context.Context) error
	String() string
}

// FanoutService runs the webhook fan-out consumer. The consumer builds a
// new watermill router on each Run, so restarts resubscribe cleanly.
type FanoutService struct {
	consumer Runner
}

// NewFanoutService wraps consumer.
func NewFanoutService(consumer Runner) *FanoutService {
	return &FanoutService{consumer: consumer}
}

// Serve implements suture.Service.
func (s *FanoutService) Serve(ctx context.Context) error {
	if err := s.consumer.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", s.consumer.String(), err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *FanoutService) String() string {
	return s.consumer.String()
}

// StreamCloser matches *broadcast.Broadcaster.
type StreamCloser interface {
	CloseAll() int
}

// StreamShutdownService closes every live stream subscriber when the tree
// stops, so SSE and websocket handlers return before the HTTP server's
// shutdown deadline.
type StreamShutdownService struct {
	streams StreamCloser
}

// NewStreamShutdownService wraps streams.
func NewStreamShutdownService(streams StreamCloser) *StreamShutdownService {
	return &StreamShutdownService{streams: streams}
}

// Serve implements suture.Service.
func (s *StreamShutdownService) Serve(ctx context.Context) error {
	<-ctx.Done()
	if n := s.streams.CloseAll(); n > 0 {
		logging.Info().Int("subscribers", n).Msg("Closed live stream subscribers")
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *StreamShutdownService) String() string {
	return "stream-shutdown"
}
