// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// histogramCount returns the number of observations in a histogram
func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m io_prometheus_client.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

// TestRecordIngested verifies the per-tenant counter is labeled by tenant id
func TestRecordIngested(t *testing.T) {
	before := testutil.ToFloat64(EventsIngested.WithLabelValues("42"))
	observedBefore := histogramCount(t, IngestDuration)

	RecordIngested(42, 3*time.Millisecond)
	RecordIngested(42, time.Millisecond)

	after := testutil.ToFloat64(EventsIngested.WithLabelValues("42"))
	if after-before != 2 {
		t.Errorf("eventpipe_events_ingested_total{tenant=42} delta = %v, want 2", after-before)
	}
	if got := histogramCount(t, IngestDuration) - observedBefore; got != 2 {
		t.Errorf("ingest duration observations delta = %d, want 2", got)
	}
}

// TestRecordRateLimitHit verifies scope labels are tracked separately
func TestRecordRateLimitHit(t *testing.T) {
	ipBefore := testutil.ToFloat64(RateLimitHits.WithLabelValues("ip"))
	tenantBefore := testutil.ToFloat64(RateLimitHits.WithLabelValues("tenant"))

	RecordRateLimitHit("ip")

	if got := testutil.ToFloat64(RateLimitHits.WithLabelValues("ip")) - ipBefore; got != 1 {
		t.Errorf("ip delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RateLimitHits.WithLabelValues("tenant")) - tenantBefore; got != 0 {
		t.Errorf("tenant delta = %v, want 0", got)
	}
}

// TestRecordSessionResolution verifies upgrades are counted only when flagged
func TestRecordSessionResolution(t *testing.T) {
	upgradesBefore := testutil.ToFloat64(SessionUpgrades)

	RecordSessionResolution("found", false)
	RecordSessionResolution("found", true)

	if got := testutil.ToFloat64(SessionUpgrades) - upgradesBefore; got != 1 {
		t.Errorf("upgrades delta = %v, want 1", got)
	}
}

// TestRecordCircuitBreakerTransition verifies the state gauge follows the target state
func TestRecordCircuitBreakerTransition(t *testing.T) {
	RecordCircuitBreakerTransition("webhook:test", "closed", "open", 2)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("webhook:test")); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	RecordCircuitBreakerTransition("webhook:test", "open", "half-open", 1)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("webhook:test")); got != 1 {
		t.Errorf("state = %v, want 1", got)
	}
}

// TestTrackStreamSubscriber verifies the gauge increments and decrements
func TestTrackStreamSubscriber(t *testing.T) {
	before := testutil.ToFloat64(StreamSubscribers.WithLabelValues("sse"))
	TrackStreamSubscriber("sse", true)
	TrackStreamSubscriber("sse", true)
	TrackStreamSubscriber("sse", false)
	if got := testutil.ToFloat64(StreamSubscribers.WithLabelValues("sse")) - before; got != 1 {
		t.Errorf("sse delta = %v, want 1", got)
	}
}

// TestConcurrentRecording verifies helpers are safe for concurrent use
func TestConcurrentRecording(t *testing.T) {
	before := testutil.ToFloat64(EventsIngested.WithLabelValues("7"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordIngested(7, time.Millisecond)
			RecordAPIRequest("POST", "/api/v1/events", "201", time.Millisecond)
			TrackActiveRequest(true)
			TrackActiveRequest(false)
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(EventsIngested.WithLabelValues("7")) - before; got != 50 {
		t.Errorf("delta = %v, want 50", got)
	}
}

// TestMetricGathering tests that metrics can be gathered using testutil
func TestMetricGathering(t *testing.T) {
	RecordIngested(1, time.Millisecond)
	RecordWebhookDelivery("success", 10*time.Millisecond)

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("GatherAndLint() error = %v", err)
	}
	for _, p := range problems {
		if strings.HasPrefix(p.Metric, "eventpipe_") {
			t.Errorf("lint problem on %s: %s", p.Metric, p.Text)
		}
	}
}
