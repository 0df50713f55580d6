// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tomtom215/eventpipe/internal/models"
)

// InsertEvent writes one immutable event row in its own transaction.
func (p *Postgres) InsertEvent(ctx context.Context, e *models.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	if e.EventTime.IsZero() {
		e.EventTime = e.RecordedAt
	}

	properties := []byte(e.Properties)
	if len(properties) == 0 {
		properties = []byte("{}")
	}

	var idemKey *string
	if e.IdempotencyKey != "" {
		idemKey = &e.IdempotencyKey
	}

	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO events (
				id, tenant_id, event_name, user_id, session_id, properties,
				user_agent, ip, referrer, device, os, browser,
				event_time, recorded_at, idempotency_key
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		`,
			e.ID, e.TenantID, e.Name, e.UserID, e.SessionID, properties,
			e.UserAgent, e.IP, e.Referrer, e.Device, e.OS, e.Browser,
			e.EventTime, e.RecordedAt, idemKey,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrDuplicateEvent
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return ErrDuplicateEvent
		}
		if isPgError(err, foreignKeyViolation) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

const selectEvent = `
	SELECT id, tenant_id, event_name, user_id, session_id, properties,
	       user_agent, ip, referrer, device, os, browser,
	       event_time, recorded_at, COALESCE(idempotency_key, '')
	FROM events`

// LatestEvent returns the tenant's most recently recorded event.
func (p *Postgres) LatestEvent(ctx context.Context, tenantID int64) (*models.Event, error) {
	row := p.pool.QueryRow(ctx, selectEvent+`
		WHERE tenant_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, tenantID)
	e, err := scanEvent(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to read latest event: %w", err)
	}
	return e, err
}

// FindEventByIdempotencyKey returns the tenant's event recorded under key.
func (p *Postgres) FindEventByIdempotencyKey(ctx context.Context, tenantID int64, key string) (*models.Event, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	row := p.pool.QueryRow(ctx, selectEvent+`
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key)
	e, err := scanEvent(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to read event by idempotency key: %w", err)
	}
	return e, err
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var (
		e          models.Event
		sessionID  pgtype.UUID
		properties []byte
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.Name, &e.UserID, &sessionID, &properties,
		&e.UserAgent, &e.IP, &e.Referrer, &e.Device, &e.OS, &e.Browser,
		&e.EventTime, &e.RecordedAt, &e.IdempotencyKey,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if sessionID.Valid {
		id := uuid.UUID(sessionID.Bytes)
		e.SessionID = &id
	}
	e.Properties = properties
	return &e, nil
}
