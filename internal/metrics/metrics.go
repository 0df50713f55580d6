// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package metrics registers Eventpipe's Prometheus collectors on the
// default registry. Handlers and pipeline components record through the
// helper functions so label sets stay consistent.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest Metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_events_ingested_total",
			Help: "Total number of events persisted, labeled by tenant",
		},
		[]string{"tenant"},
	)

	IngestRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_ingest_rejections_total",
			Help: "Total number of rejected ingest requests",
		},
		[]string{"reason"}, // "validation", "tenant_mismatch", "rate_limited", "internal"
	)

	IngestDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_ingest_duplicates_total",
			Help: "Total number of ingest requests answered from the idempotency cache",
		},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventpipe_ingest_duration_seconds",
			Help:    "End-to-end duration of successful ingest calls",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// Rate Limit Metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_rate_limit_hits_total",
			Help: "Total number of requests over a rate limit ceiling",
		},
		[]string{"scope"}, // "ip", "tenant"
	)

	// Session Metrics
	SessionResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_session_resolutions_total",
			Help: "Total number of session resolutions by outcome",
		},
		[]string{"outcome"}, // "found", "created", "conflict_retry", "exhausted"
	)

	SessionUpgrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_session_upgrades_total",
			Help: "Total number of anonymous sessions upgraded to a known user",
		},
	)

	// Broadcast Metrics
	StreamSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventpipe_stream_subscribers",
			Help: "Current number of live stream subscribers",
		},
		[]string{"transport"}, // "sse", "websocket"
	)

	StreamMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_stream_messages_sent_total",
			Help: "Total number of messages queued to stream subscribers",
		},
	)

	StreamSubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_stream_subscribers_dropped_total",
			Help: "Total number of subscribers removed after a failed send",
		},
	)

	// Webhook Metrics
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_webhook_deliveries_total",
			Help: "Total number of webhook delivery outcomes",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	WebhookDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventpipe_webhook_delivery_duration_seconds",
			Help:    "Duration of individual webhook POST attempts",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventpipe_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Fanout Metrics
	FanoutPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_fanout_published_total",
			Help: "Total number of events published to the fanout bus",
		},
	)

	FanoutPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_fanout_publish_errors_total",
			Help: "Total number of failed fanout publishes",
		},
	)

	FanoutConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_fanout_consumed_total",
			Help: "Total number of fanout messages handled by the webhook consumer",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventpipe_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventpipe_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Application Info
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventpipe_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordIngested increments the per-tenant ingest counter.
func RecordIngested(tenantID int64, duration time.Duration) {
	EventsIngested.WithLabelValues(strconv.FormatInt(tenantID, 10)).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordRejection records a rejected ingest request
func RecordRejection(reason string) {
	IngestRejections.WithLabelValues(reason).Inc()
}

// RecordRateLimitHit records a request over the ceiling for scope
func RecordRateLimitHit(scope string) {
	RateLimitHits.WithLabelValues(scope).Inc()
}

// RecordSessionResolution records a session resolution outcome
func RecordSessionResolution(outcome string, upgraded bool) {
	SessionResolutions.WithLabelValues(outcome).Inc()
	if upgraded {
		SessionUpgrades.Inc()
	}
}

// RecordWebhookDelivery records one delivery attempt
func RecordWebhookDelivery(result string, duration time.Duration) {
	WebhookDeliveries.WithLabelValues(result).Inc()
	if duration > 0 {
		WebhookDeliveryDuration.Observe(duration.Seconds())
	}
}

// RecordCircuitBreakerTransition updates breaker gauges on a state change.
// States follow gobreaker's ordering: 0=closed, 1=half-open, 2=open.
func RecordCircuitBreakerTransition(name, fromName, toName string, toState int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(toState))
	CircuitBreakerTransitions.WithLabelValues(name, fromName, toName).Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// TrackStreamSubscriber adjusts the live subscriber gauge for transport
func TrackStreamSubscriber(transport string, inc bool) {
	if inc {
		StreamSubscribers.WithLabelValues(transport).Inc()
	} else {
		StreamSubscribers.WithLabelValues(transport).Dec()
	}
}
