// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/models"
)

// SSE event names.
const (
	EventHandshake = "handshake"
	EventEvent     = "event"
)

// Handshake is sent once when a stream opens.
type Handshake struct {
	TenantID    int64     `json:"tenantId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// SSEStream is a Subscriber writing server-sent events to an HTTP response.
type SSEStream struct {
	id        uint64
	tenantID  int64
	send      chan models.StreamMessage
	done      chan struct{}
	closeOnce sync.Once
	heartbeat time.Duration
}

// NewSSEStream creates a stream with a send buffer of bufferSize messages.
// A heartbeat of zero disables keep-alive comments.
func NewSSEStream(tenantID int64, bufferSize int, heartbeat time.Duration) *SSEStream {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &SSEStream{
		id:        NextSubscriberID(),
		tenantID:  tenantID,
		send:      make(chan models.StreamMessage, bufferSize),
		done:      make(chan struct{}),
		heartbeat: heartbeat,
	}
}

// ID implements Subscriber.
func (s *SSEStream) ID() uint64 { return s.id }

// Send implements Subscriber.
func (s *SSEStream) Send(msg models.StreamMessage) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close implements Subscriber.
func (s *SSEStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed when the stream is closed.
func (s *SSEStream) Done() <-chan struct{} { return s.done }

// Serve writes the handshake and then queued messages until ctx is canceled,
// the stream is closed, or a write fails.
func (s *SSEStream) Serve(ctx context.Context, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}

	metrics.TrackStreamSubscriber("sse", true)
	defer metrics.TrackStreamSubscriber("sse", false)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, EventHandshake, Handshake{TenantID: s.tenantID, ConnectedAt: time.Now().UTC()}); err != nil {
		return err
	}
	flusher.Flush()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case msg := <-s.send:
			if err := writeSSE(w, EventEvent, msg); err != nil {
				return err
			}
			flusher.Flush()
		case <-tick:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	return nil
}

var _ Subscriber = (*SSEStream)(nil)
