// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package ingest runs the end-to-end save path for one analytics event.
//
// Ingest performs, in order:
//  1. validation, tenant scoping and rate limiting, all before any write
//  2. an Idempotency-Key pre-check that short-circuits to the stored summary;
//     requests sharing a key are serialized from here to step 6, so only
//     the first one writes
//  3. session resolution (skipped without a session id), which commits on
//     its own and may upgrade an anonymous session
//  4. the event insert, in its own transaction
//  5. the ingest counter, then live broadcast and fan-out publication,
//     whose failures are logged and never change the result
//  6. recording the summary under the Idempotency-Key
//
// Across processes the event store rejects a second event with the same
// tenant and key (store.ErrDuplicateEvent); the stored event's summary is
// returned instead.
//
// Store failures other than those above are returned as internal errors.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/idempotency"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/models"
	"github.com/tomtom215/eventpipe/internal/ratelimit"
	"github.com/tomtom215/eventpipe/internal/session"
	"github.com/tomtom215/eventpipe/internal/store"
	"github.com/tomtom215/eventpipe/internal/useragent"
	"github.com/tomtom215/eventpipe/internal/validation"
)

// Request is one event submission plus the request context the server
// derived for it.
type Request struct {
	EventName  string          `json:"eventName" validate:"required,max=255"`
	SessionID  string          `json:"sessionId" validate:"omitempty,max=255"`
	UserID     string          `json:"userId" validate:"omitempty,max=255"`
	TenantID   int64           `json:"tenantId" validate:"omitempty,min=1"`
	Properties json.RawMessage `json:"properties" validate:"omitempty,jsonobject"`
	EventTime  *time.Time      `json:"eventTime"`

	// TrustedTenantID comes from the tenant header or token claim; 0 if absent.
	TrustedTenantID int64  `json:"-"`
	IdempotencyKey  string `json:"idempotencyKey" validate:"omitempty,max=255"`

	UserAgent string `json:"-"`
	IP        string `json:"-"`
	Referrer  string `json:"-"`
}

// FromBody copies the HTTP body fields into a Request.
func FromBody(body *models.IngestRequest) *Request {
	return &Request{
		EventName:  body.EventName,
		SessionID:  body.SessionID,
		UserID:     body.UserID,
		TenantID:   body.TenantID,
		Properties: body.Properties,
		EventTime:  body.EventTime,
	}
}

// Result is returned by Ingest.
type Result struct {
	Summary models.EventSummary

	// Duplicate is true when the summary was recorded by an earlier
	// request with the same Idempotency-Key.
	Duplicate bool
}

// SessionResolver is satisfied by *session.Registry.
type SessionResolver interface {
	Resolve(ctx context.Context, tenantID int64, externalID string, userID *string) (session.Resolution, error)
}

// RateLimiter is satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	Check(ctx context.Context, ip string, tenantID int64) (ratelimit.Decision, error)
}

// Broadcaster is satisfied by *broadcast.Broadcaster.
type Broadcaster interface {
	Broadcast(tenantID int64, msg models.StreamMessage)
}

// Publisher is satisfied by *fanout.Bus.
type Publisher interface {
	Publish(ctx context.Context, e *models.Event) error
}

// Deps are the collaborators of an Ingestor. Limiter, Broadcaster and
// Publisher may be nil.
type Deps struct {
	Sessions    SessionResolver
	Events      store.EventStore
	Guard       idempotency.Guard
	Limiter     RateLimiter
	Broadcaster Broadcaster
	Publisher   Publisher
	UserAgents  *useragent.Parser
}

// Ingestor runs the save path. It is safe for concurrent use.
type Ingestor struct {
	deps  Deps
	keys  *session.KeyedLocker[string]
	now   func() time.Time
	newID func() uuid.UUID
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// New creates an Ingestor.
func New(deps Deps, opts ...Option) *Ingestor {
	if deps.UserAgents == nil {
		deps.UserAgents = useragent.NewParser()
	}
	i := &Ingestor{
		deps:  deps,
		keys:  session.NewKeyedLocker[string](),
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest stores one event. See the package documentation for the order of
// steps and which failures are returned.
func (i *Ingestor) Ingest(ctx context.Context, req *Request) (*Result, error) {
	started := i.now()

	if verr := validation.ValidateStruct(req); verr != nil {
		metrics.RecordRejection("validation")
		return nil, &ValidationError{Err: verr}
	}

	tenantID, err := scopeTenant(req.TrustedTenantID, req.TenantID)
	if err != nil {
		return nil, err
	}

	if err := i.checkRateLimit(ctx, req.IP, tenantID); err != nil {
		return nil, err
	}

	idemKey := scopedKey(tenantID, req.IdempotencyKey)
	if idemKey != "" {
		release := i.keys.Lock(idemKey)
		defer release()

		cached, found, err := i.deps.Guard.FindSummary(ctx, idemKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if found {
			metrics.IngestDuplicates.Inc()
			return &Result{Summary: *cached, Duplicate: true}, nil
		}
	}

	userID := optional(req.UserID)

	var sessionRef *uuid.UUID
	if req.SessionID != "" {
		res, err := i.deps.Sessions.Resolve(ctx, tenantID, req.SessionID, userID)
		if err != nil {
			if errors.Is(err, session.ErrResolutionExhausted) {
				metrics.RecordRejection("session_exhausted")
				return nil, err
			}
			return nil, fmt.Errorf("resolve session: %w", err)
		}
		id := res.Session.ID
		sessionRef = &id
	}

	event := i.buildEvent(req, tenantID, userID, sessionRef)
	if err := i.deps.Events.InsertEvent(ctx, event); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			return i.storedDuplicate(ctx, tenantID, idemKey, req)
		}
		return nil, fmt.Errorf("persist event: %w", err)
	}

	metrics.RecordIngested(tenantID, i.now().Sub(started))
	i.afterCommit(ctx, event)

	summary := event.Summary(req.SessionID)
	if idemKey == "" {
		return &Result{Summary: summary}, nil
	}
	return i.recordSummary(ctx, idemKey, summary), nil
}

// scopeTenant picks the effective tenant. A trusted tenant wins; a payload
// tenant that disagrees with it is rejected.
func scopeTenant(trusted, payload int64) (int64, error) {
	switch {
	case trusted != 0 && payload != 0 && trusted != payload:
		metrics.RecordRejection("tenant_mismatch")
		return 0, fmt.Errorf("%w: trusted tenant %d, payload tenant %d", ErrTenantMismatch, trusted, payload)
	case trusted != 0:
		return trusted, nil
	case payload != 0:
		return payload, nil
	default:
		metrics.RecordRejection("validation")
		return 0, &ValidationError{Err: validation.NewRequestValidationError(
			validation.NewFieldError("tenantId", "required", "tenantId is required"),
		)}
	}
}

func (i *Ingestor) checkRateLimit(ctx context.Context, ip string, tenantID int64) error {
	if i.deps.Limiter == nil {
		return nil
	}
	d, err := i.deps.Limiter.Check(ctx, ip, tenantID)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !d.Allowed {
		metrics.RecordRejection("rate_limited")
		return &RateLimitError{Scope: d.Scope, Limit: d.Limit}
	}
	return nil
}

func (i *Ingestor) buildEvent(req *Request, tenantID int64, userID *string, sessionRef *uuid.UUID) *models.Event {
	now := i.now().UTC()
	eventTime := now
	if req.EventTime != nil && !req.EventTime.IsZero() {
		eventTime = req.EventTime.UTC()
	}

	var props json.RawMessage
	if len(req.Properties) > 0 && string(req.Properties) != "null" {
		props = req.Properties
	}

	ua := i.deps.UserAgents.Parse(req.UserAgent)
	return &models.Event{
		ID:         i.newID(),
		Name:       req.EventName,
		TenantID:   tenantID,
		UserID:     userID,
		SessionID:  sessionRef,
		Properties: props,
		UserAgent:  req.UserAgent,
		IP:         req.IP,
		Referrer:   req.Referrer,
		Device:     ua.Device,
		OS:         ua.OS,
		Browser:    ua.Browser,
		EventTime:  eventTime,
		RecordedAt: now,

		IdempotencyKey: req.IdempotencyKey,
	}
}

// afterCommit notifies live subscribers and the fan-out bus.
func (i *Ingestor) afterCommit(ctx context.Context, e *models.Event) {
	if i.deps.Broadcaster != nil {
		i.deps.Broadcaster.Broadcast(e.TenantID, e.StreamMessage())
	}
	if i.deps.Publisher != nil {
		if err := i.deps.Publisher.Publish(ctx, e); err != nil {
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("event_id", e.ID.String()).
				Msg("Failed to hand event to webhook fan-out")
		}
	}
}

// recordSummary stores summary under key. The event is already committed,
// so a guard failure is logged rather than returned.
func (i *Ingestor) recordSummary(ctx context.Context, key string, summary models.EventSummary) *Result {
	first, err := i.deps.Guard.CheckAndSet(ctx, key, &summary)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("event_id", summary.ID.String()).Msg("Failed to record idempotency key")
		return &Result{Summary: summary}
	}
	if first {
		return &Result{Summary: summary}
	}

	winner, found, err := i.deps.Guard.FindSummary(ctx, key)
	if err != nil || !found {
		return &Result{Summary: summary}
	}
	metrics.IngestDuplicates.Inc()
	return &Result{Summary: *winner, Duplicate: true}
}

// storedDuplicate answers a request whose key another process already
// committed an event for. Nothing was written by this call.
func (i *Ingestor) storedDuplicate(ctx context.Context, tenantID int64, key string, req *Request) (*Result, error) {
	existing, err := i.deps.Events.FindEventByIdempotencyKey(ctx, tenantID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("read event for idempotency key: %w", err)
	}
	summary := existing.Summary(req.SessionID)
	if _, err := i.deps.Guard.CheckAndSet(ctx, key, &summary); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", summary.ID.String()).Msg("Failed to cache idempotency key")
	}
	metrics.IngestDuplicates.Inc()
	return &Result{Summary: summary, Duplicate: true}, nil
}

// scopedKey namespaces client keys per tenant.
func scopedKey(tenantID int64, key string) string {
	if key == "" {
		return ""
	}
	return strconv.FormatInt(tenantID, 10) + ":" + key
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
