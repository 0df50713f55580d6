// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package store persists sessions, events and webhook subscriptions.
//
// Every method runs in its own transaction and commits before returning.
// Callers compose them into larger flows; nothing here spans a transaction
// across calls.
//
// Implementations:
//   - Postgres: production store on pgx/v5 (pgxpool)
//   - Memory: in-process store for development and tests
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrSessionNotFound is returned when an event references a session
	// that has not been committed.
	ErrSessionNotFound = errors.New("store: referenced session does not exist")

	// ErrDuplicateEvent is returned by InsertEvent when the tenant already
	// has an event recorded under the same idempotency key.
	ErrDuplicateEvent = errors.New("store: idempotency key already recorded")
)

// SessionStore reads and writes Session rows.
type SessionStore interface {
	// FindSessionForUpdate reads the (tenant, external id) row under a row
	// lock, touches its last activity time and commits. Returns ErrNotFound
	// when no committed row exists.
	FindSessionForUpdate(ctx context.Context, tenantID int64, externalID string) (*models.Session, error)

	// InsertSession inserts s unless a row with the same (tenant, external
	// id) already exists. Returns false when another writer got there first.
	InsertSession(ctx context.Context, s *models.Session) (bool, error)

	// UpgradeSessionUser sets the user id on an anonymous session. Returns
	// false when the session already had a user.
	UpgradeSessionUser(ctx context.Context, sessionID uuid.UUID, userID string) (bool, error)
}

// EventStore writes Event rows and reads the latest one per tenant.
type EventStore interface {
	// InsertEvent writes e. A non-empty e.IdempotencyKey is unique per
	// tenant; a second insert with the same key returns ErrDuplicateEvent
	// and writes nothing.
	InsertEvent(ctx context.Context, e *models.Event) error

	// FindEventByIdempotencyKey returns the event recorded under key, or
	// ErrNotFound.
	FindEventByIdempotencyKey(ctx context.Context, tenantID int64, key string) (*models.Event, error)

	// LatestEvent returns the tenant's most recently recorded event, or
	// ErrNotFound.
	LatestEvent(ctx context.Context, tenantID int64) (*models.Event, error)
}

// SubscriptionStore manages webhook subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	ListSubscriptions(ctx context.Context, tenantID int64) ([]models.WebhookSubscription, error)

	// ActiveSubscriptions returns only enabled subscriptions.
	ActiveSubscriptions(ctx context.Context, tenantID int64) ([]models.WebhookSubscription, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	SessionStore
	EventStore
	SubscriptionStore
	Ping(ctx context.Context) error
	Close()
}
