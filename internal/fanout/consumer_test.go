// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/models"
)

// gatedHandler holds events named "slow" until release is closed.
type gatedHandler struct {
	*recordingHandler
	release chan struct{}
}

func (h *gatedHandler) OnEvent(ctx context.Context, e *models.Event) int {
	if e.Name == "slow" {
		<-h.release
	}
	return h.recordingHandler.OnEvent(ctx, e)
}

func TestConsumer_SlowEventDoesNotBlockOthers(t *testing.T) {
	bus := testBus()
	defer bus.Close()

	inner := newRecordingHandler()
	h := &gatedHandler{recordingHandler: inner, release: make(chan struct{})}
	startConsumerFor(t, bus, h, inner.probes, WithWorkers(2))
	released := false
	defer func() {
		if !released {
			close(h.release)
		}
	}()

	ctx := context.Background()
	if err := bus.Publish(ctx, &models.Event{ID: uuid.New(), Name: "slow", TenantID: 1}); err != nil {
		t.Fatalf("Publish(slow) error = %v", err)
	}
	if err := bus.Publish(ctx, &models.Event{ID: uuid.New(), Name: "fast", TenantID: 2}); err != nil {
		t.Fatalf("Publish(fast) error = %v", err)
	}

	select {
	case <-inner.seen:
	case <-time.After(5 * time.Second):
		t.Fatal("fast event waited behind the slow one")
	}
	inner.mu.Lock()
	first := inner.events[0].Name
	inner.mu.Unlock()
	if first != "fast" {
		t.Errorf("first handled = %q, want fast", first)
	}

	close(h.release)
	released = true
	waitSeen(t, inner, 1)
}

func TestWithWorkers_IgnoresNonPositive(t *testing.T) {
	bus := testBus()
	defer bus.Close()

	if got := cap(NewConsumer(bus, newRecordingHandler(), "x", WithWorkers(0)).slots); got != defaultWorkers {
		t.Errorf("workers = %d, want default %d", got, defaultWorkers)
	}
	if got := cap(NewConsumer(bus, newRecordingHandler(), "x", WithWorkers(3)).slots); got != 3 {
		t.Errorf("workers = %d, want 3", got)
	}
}
