// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package session resolves client session tokens to Session rows.
//
// Registry.Resolve is a race-safe get-or-create: for every (tenant,
// external id) at most one Session row is ever committed, even when many
// requests across several processes see the token for the first time at
// once. Each store call commits on its own, so a resolved session survives
// even if the caller's later work fails.
//
// Resolution steps:
//  1. Serialize same-key callers in this process with a KeyedLocker. This
//     only saves database round trips; the store enforces uniqueness.
//  2. Read the row under a row lock. If present, return it, upgrading an
//     anonymous session when a user id is supplied.
//  3. Otherwise insert with a conditional upsert. If another writer won,
//     re-read with bounded exponential backoff until its row is visible.
//  4. Give up with ErrResolutionExhausted once the attempt budget is spent.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/models"
	"github.com/tomtom215/eventpipe/internal/store"
)

// ErrResolutionExhausted means a concurrent creator won the insert but its
// row never became visible within the retry budget.
var ErrResolutionExhausted = errors.New("session resolution retries exhausted")

// Outcome tags how Resolve obtained the session.
type Outcome int

const (
	// OutcomeFound means the row already existed.
	OutcomeFound Outcome = iota + 1
	// OutcomeCreated means this call inserted the row.
	OutcomeCreated
	// OutcomeConflictRetry means another writer inserted the row first and
	// this call read it back.
	OutcomeConflictRetry
)

// String returns the metric label for o.
func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeCreated:
		return "created"
	case OutcomeConflictRetry:
		return "conflict_retry"
	default:
		return "unknown"
	}
}

// Resolution is the result of Resolve.
type Resolution struct {
	Session *models.Session
	Outcome Outcome

	// Upgraded is true when this call attached a user to an anonymous session.
	Upgraded bool

	// Attempts counts the reads made after losing an insert race.
	Attempts int
}

// Registry resolves sessions. It is safe for concurrent use.
type Registry struct {
	store          store.SessionStore
	locks          *KeyedLocker[models.SessionKey]
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
	newID          func() uuid.UUID
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator replaces uuid.New for new session ids.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(r *Registry) { r.newID = newID }
}

// NewRegistry creates a Registry on st.
func NewRegistry(st store.SessionStore, cfg *config.SessionConfig, opts ...Option) *Registry {
	r := &Registry{
		store:          st,
		locks:          NewKeyedLocker[models.SessionKey](),
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		now:            time.Now,
		newID:          uuid.New,
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the session for (tenantID, externalID), creating it if
// needed. A nil or empty userID leaves the session's user untouched.
func (r *Registry) Resolve(ctx context.Context, tenantID int64, externalID string, userID *string) (Resolution, error) {
	if externalID == "" {
		return Resolution{}, errors.New("session: external id is required")
	}
	if userID != nil && *userID == "" {
		userID = nil
	}

	key := models.SessionKey{TenantID: tenantID, ExternalID: externalID}
	unlock := r.locks.Lock(key)
	defer unlock()

	res, err := r.resolveLocked(ctx, key, userID)
	if err != nil {
		return Resolution{}, err
	}

	metrics.RecordSessionResolution(res.Outcome.String(), res.Upgraded)
	return res, nil
}

func (r *Registry) resolveLocked(ctx context.Context, key models.SessionKey, userID *string) (Resolution, error) {
	existing, err := r.store.FindSessionForUpdate(ctx, key.TenantID, key.ExternalID)
	switch {
	case err == nil:
		return r.withUser(ctx, Resolution{Session: existing, Outcome: OutcomeFound}, userID)
	case !errors.Is(err, store.ErrNotFound):
		return Resolution{}, fmt.Errorf("read session: %w", err)
	}

	now := r.now().UTC()
	candidate := &models.Session{
		ID:             r.newID(),
		ExternalID:     key.ExternalID,
		TenantID:       key.TenantID,
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	inserted, err := r.store.InsertSession(ctx, candidate)
	if err != nil {
		return Resolution{}, fmt.Errorf("insert session: %w", err)
	}
	if inserted {
		return Resolution{Session: candidate, Outcome: OutcomeCreated}, nil
	}

	// Another writer committed first; the candidate is discarded
	winner, attempts, err := r.awaitCommitted(ctx, key)
	if err != nil {
		return Resolution{}, err
	}
	return r.withUser(ctx, Resolution{Session: winner, Outcome: OutcomeConflictRetry, Attempts: attempts}, userID)
}

// awaitCommitted re-reads key until the winning row is visible.
func (r *Registry) awaitCommitted(ctx context.Context, key models.SessionKey) (*models.Session, int, error) {
	delay := r.initialBackoff

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		s, err := r.store.FindSessionForUpdate(ctx, key.TenantID, key.ExternalID)
		if err == nil {
			return s, attempt, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, attempt, fmt.Errorf("re-read session: %w", err)
		}

		if attempt == r.maxAttempts {
			break
		}

		logging.Ctx(ctx).Debug().
			Int64("tenant_id", key.TenantID).
			Str("session_id", key.ExternalID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Concurrent session not visible yet, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		}

		delay *= 2
		if delay > r.maxBackoff {
			delay = r.maxBackoff
		}
	}

	logging.Ctx(ctx).Error().
		Int64("tenant_id", key.TenantID).
		Str("session_id", key.ExternalID).
		Int("attempts", r.maxAttempts).
		Msg("Session resolution retries exhausted")

	return nil, r.maxAttempts, fmt.Errorf("%w: tenant %d session %q after %d attempts",
		ErrResolutionExhausted, key.TenantID, key.ExternalID, r.maxAttempts)
}

// withUser upgrades an anonymous session when userID is set.
func (r *Registry) withUser(ctx context.Context, res Resolution, userID *string) (Resolution, error) {
	if userID == nil || !res.Session.Anonymous() {
		return res, nil
	}

	upgraded, err := r.store.UpgradeSessionUser(ctx, res.Session.ID, *userID)
	if err != nil {
		return Resolution{}, fmt.Errorf("upgrade session user: %w", err)
	}
	if upgraded {
		uid := *userID
		res.Session.UserID = &uid
		res.Upgraded = true
		return res, nil
	}

	// Someone else identified the session in between; report their user
	fresh, err := r.store.FindSessionForUpdate(ctx, res.Session.TenantID, res.Session.ExternalID)
	if err != nil {
		return Resolution{}, fmt.Errorf("re-read upgraded session: %w", err)
	}
	res.Session = fresh
	return res, nil
}
