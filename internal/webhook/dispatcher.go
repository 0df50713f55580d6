// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package webhook delivers signed event notifications to tenant-registered
// HTTP endpoints.
//
// Delivery is fire and forget from the ingest path's point of view: each
// endpoint gets at most two attempts, and failures are logged and counted
// but never returned to the caller. Each endpoint host has its own circuit
// breaker; while it is open, deliveries to that host fail fast. The
// endpoints of one event are called in parallel.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/models"
	"github.com/tomtom215/eventpipe/internal/store"
)

// maxAttempts is one try plus one immediate retry.
const maxAttempts = 2

// maxParallelTargets bounds concurrent deliveries for one event.
const maxParallelTargets = 8

const userAgent = "Eventpipe-Webhook/1.0"

// Delivery results used as metric labels.
const (
	resultDelivered   = "delivered"
	resultRetried     = "retried"
	resultFailed      = "failed"
	resultCircuitOpen = "circuit_open"
)

// errStatus is a non-2xx response.
type errStatus struct {
	code int
	body string
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.code, e.body)
}

// target is one delivery endpoint.
type target struct {
	url    string
	secret string
}

// Dispatcher sends webhook notifications. It is safe for concurrent use.
type Dispatcher struct {
	subscriptions store.SubscriptionStore
	events        store.EventStore
	client        *http.Client
	timeout       time.Duration
	legacy        *target
	pacer         *rate.Limiter
	breakers      *breakers
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client. Its Timeout is left as is.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// NewDispatcher creates a dispatcher reading subscriptions and events from
// the given stores.
func NewDispatcher(subs store.SubscriptionStore, events store.EventStore, cfg *config.WebhookConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subscriptions: subs,
		events:        events,
		client:        &http.Client{Timeout: cfg.Timeout},
		timeout:       cfg.Timeout,
		breakers:      newBreakers(cfg.BreakerFailures, cfg.BreakerTimeout),
	}
	if cfg.LegacyURL != "" {
		d.legacy = &target{url: cfg.LegacyURL, secret: cfg.LegacySecret}
	}
	if cfg.MaxPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		d.pacer = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), burst)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnEvent delivers e to every enabled subscription of its tenant and to the
// legacy endpoint, if configured. Returns the number of endpoints that
// accepted the delivery.
func (d *Dispatcher) OnEvent(ctx context.Context, e *models.Event) int {
	targets, err := d.targetsFor(ctx, e.TenantID, true)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("tenant_id", e.TenantID).Msg("Failed to load webhook subscriptions")
		if d.legacy == nil {
			return 0
		}
		targets = []target{*d.legacy}
	}
	return d.deliverAll(ctx, e, targets)
}

// ReplayLatest resends the tenant's most recent event to its active
// subscriptions. A tenant without events is not an error.
func (d *Dispatcher) ReplayLatest(ctx context.Context, tenantID int64) (int, error) {
	e, err := d.events.LatestEvent(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load latest event: %w", err)
	}

	targets, err := d.targetsFor(ctx, tenantID, false)
	if err != nil {
		return 0, err
	}

	delivered := d.deliverAll(ctx, e, targets)
	logging.Ctx(ctx).Info().
		Int64("tenant_id", tenantID).
		Str("event_id", e.ID.String()).
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("Replayed latest event to webhooks")
	return delivered, nil
}

func (d *Dispatcher) targetsFor(ctx context.Context, tenantID int64, withLegacy bool) ([]target, error) {
	subs, err := d.subscriptions.ActiveSubscriptions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load webhook subscriptions: %w", err)
	}

	targets := make([]target, 0, len(subs)+1)
	for i := range subs {
		targets = append(targets, target{url: subs[i].URL, secret: subs[i].Secret})
	}
	if withLegacy && d.legacy != nil {
		targets = append(targets, *d.legacy)
	}
	return targets, nil
}

func (d *Dispatcher) deliverAll(ctx context.Context, e *models.Event, targets []target) int {
	if len(targets) == 0 {
		return 0
	}

	body, err := json.Marshal(e.WebhookPayload())
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to encode webhook payload")
		return 0
	}

	if len(targets) == 1 {
		if d.deliver(ctx, targets[0], body, e) {
			return 1
		}
		return 0
	}

	var (
		delivered atomic.Int32
		wg        sync.WaitGroup
		slots     = make(chan struct{}, maxParallelTargets)
	)
	for _, t := range targets {
		slots <- struct{}{}
		wg.Add(1)
		go func(t target) {
			defer func() {
				<-slots
				wg.Done()
			}()
			if d.deliver(ctx, t, body, e) {
				delivered.Add(1)
			}
		}(t)
	}
	wg.Wait()
	return int(delivered.Load())
}

// deliver makes up to maxAttempts attempts. Failures are logged, not returned.
func (d *Dispatcher) deliver(ctx context.Context, t target, body []byte, e *models.Event) bool {
	cb := d.breakers.forURL(t.url)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if d.pacer != nil {
			if err := d.pacer.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		started := time.Now()
		_, err := cb.Execute(func() (int, error) {
			return d.post(ctx, t, body)
		})
		elapsed := time.Since(started)

		if err == nil {
			metrics.RecordWebhookDelivery(resultDelivered, elapsed)
			return true
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordWebhookDelivery(resultCircuitOpen, 0)
			break
		}
		if attempt < maxAttempts {
			metrics.RecordWebhookDelivery(resultRetried, elapsed)
			continue
		}
		metrics.RecordWebhookDelivery(resultFailed, elapsed)
	}

	logging.Ctx(ctx).Warn().
		Err(lastErr).
		Str("url", t.url).
		Int64("tenant_id", e.TenantID).
		Str("event_id", e.ID.String()).
		Msg("Webhook delivery failed")
	return false
}

// post sends one request. The timeout is independent of ctx's deadline so
// a finished ingest request cannot cut a delivery short.
func (d *Dispatcher) post(ctx context.Context, t target, body []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if t.secret != "" {
		req.Header.Set(SignatureHeader, Sign(t.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &errStatus{code: resp.StatusCode, body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
