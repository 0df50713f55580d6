// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/models"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []*models.Event
	corrID []string
	seen   chan struct{}
	probes chan struct{}
}

const probeName = "__probe"

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan struct{}, 16), probes: make(chan struct{}, 1)}
}

func (h *recordingHandler) OnEvent(ctx context.Context, e *models.Event) int {
	if e.Name == probeName {
		select {
		case h.probes <- struct{}{}:
		default:
		}
		return 0
	}
	h.mu.Lock()
	h.events = append(h.events, e)
	h.corrID = append(h.corrID, logging.CorrelationIDFromContext(ctx))
	h.mu.Unlock()
	h.seen <- struct{}{}
	return 1
}

func waitSeen(t *testing.T, h *recordingHandler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.seen:
		case <-time.After(5 * time.Second):
			t.Fatalf("handler saw %d of %d events", i, n)
		}
	}
}

func testBus() *Bus {
	return NewChannelBus(&config.FanoutConfig{Topic: "events.ingested", BufferSize: 16})
}

// startConsumer runs a consumer and waits until its router is subscribed.
func startConsumer(t *testing.T, bus *Bus, h *recordingHandler, opts ...ConsumerOption) {
	t.Helper()
	startConsumerFor(t, bus, h, h.probes, opts...)
}

func startConsumerFor(t *testing.T, bus *Bus, h EventHandler, probes <-chan struct{}, opts ...ConsumerOption) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewConsumer(bus, h, "test", opts...).Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("consumer did not stop")
		}
	})

	// gochannel drops messages published before anyone subscribes
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		probe := &models.Event{ID: uuid.New(), Name: probeName, TenantID: -1}
		if err := bus.Publish(context.Background(), probe); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case <-probes:
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("consumer never subscribed")
}

func TestBus_PublishReachesConsumer(t *testing.T) {
	bus := testBus()
	defer bus.Close()

	h := newRecordingHandler()
	startConsumer(t, bus, h)

	user := "alice"
	e := &models.Event{
		ID:         uuid.New(),
		Name:       "pv",
		TenantID:   7,
		UserID:     &user,
		Properties: json.RawMessage(`{"path":"/home"}`),
		EventTime:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-1")
	if err := bus.Publish(ctx, e); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitSeen(t, h, 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	got := h.events[0]
	if got.ID != e.ID || got.Name != "pv" || got.TenantID != 7 || *got.UserID != "alice" {
		t.Errorf("consumed %+v, want %+v", got, e)
	}
	if string(got.Properties) != `{"path":"/home"}` {
		t.Errorf("Properties = %s", got.Properties)
	}
	if !got.EventTime.Equal(e.EventTime) {
		t.Errorf("EventTime = %v, want %v", got.EventTime, e.EventTime)
	}
	if h.corrID[0] != "corr-1" {
		t.Errorf("correlation id = %q, want corr-1", h.corrID[0])
	}
}

func TestConsumer_DropsUndecodableMessages(t *testing.T) {
	bus := testBus()
	defer bus.Close()

	h := newRecordingHandler()
	startConsumer(t, bus, h)

	if err := bus.publisher.Publish(bus.topic, message.NewMessage(uuid.NewString(), []byte("not json"))); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	if err := bus.Publish(context.Background(), &models.Event{ID: uuid.New(), Name: "after", TenantID: 1}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitSeen(t, h, 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) != 1 || h.events[0].Name != "after" {
		t.Errorf("handler events = %+v, want only the valid event", h.events)
	}
}

func TestNewNATSBus_Stub(t *testing.T) {
	if NATSAvailable {
		t.Skip("built with NATS support")
	}
	if _, err := NewNATSBus(&config.NATSConfig{}, "events"); err == nil {
		t.Error("NewNATSBus() should fail without -tags nats")
	}
}
