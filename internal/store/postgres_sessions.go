// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/eventpipe/internal/models"
)

// FindSessionForUpdate locks the session row, bumps last_activity_at and
// commits, so concurrent resolvers in other processes queue on the row lock
// rather than reading a half-updated row.
func (p *Postgres) FindSessionForUpdate(ctx context.Context, tenantID int64, externalID string) (*models.Session, error) {
	var s models.Session

	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id, external_id, tenant_id, user_id, created_at, last_activity_at
			FROM sessions
			WHERE tenant_id = $1 AND external_id = $2
			FOR UPDATE
		`, tenantID, externalID).Scan(&s.ID, &s.ExternalID, &s.TenantID, &s.UserID, &s.CreatedAt, &s.LastActivityAt)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`, s.ID, now); err != nil {
			return err
		}
		s.LastActivityAt = now
		return nil
	})
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	return &s, nil
}

// InsertSession relies on the (tenant_id, external_id) unique constraint.
// ON CONFLICT DO NOTHING returns no row when a concurrent writer committed
// first; a 23505 can still surface on the primary key and is treated the
// same way.
func (p *Postgres) InsertSession(ctx context.Context, s *models.Session) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.CreatedAt
	}

	var inserted bool
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO sessions (id, tenant_id, external_id, user_id, created_at, last_activity_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, external_id) DO NOTHING
			RETURNING id
		`, s.ID, s.TenantID, s.ExternalID, s.UserID, s.CreatedAt, s.LastActivityAt).Scan(&id)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		if isPgError(err, uniqueViolation) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert session: %w", err)
	}

	return inserted, nil
}

// UpgradeSessionUser only touches rows whose user_id is still NULL, which
// keeps the anonymous to identified transition one-way.
func (p *Postgres) UpgradeSessionUser(ctx context.Context, sessionID uuid.UUID, userID string) (bool, error) {
	var upgraded bool
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sessions
			SET user_id = $2, last_activity_at = now()
			WHERE id = $1 AND user_id IS NULL
		`, sessionID, userID)
		if err != nil {
			return err
		}
		upgraded = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to upgrade session user: %w", err)
	}
	return upgraded, nil
}
