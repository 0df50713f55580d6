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

// CreateSubscription stores a new webhook subscription.
func (p *Postgres) CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions (id, tenant_id, url, secret, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.TenantID, sub.URL, sub.Secret, sub.Enabled, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns every subscription for a tenant, oldest first.
func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID int64) ([]models.WebhookSubscription, error) {
	return p.querySubscriptions(ctx, `
		SELECT id, tenant_id, url, secret, enabled, created_at
		FROM webhook_subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`, tenantID)
}

// ActiveSubscriptions returns the tenant's enabled subscriptions.
func (p *Postgres) ActiveSubscriptions(ctx context.Context, tenantID int64) ([]models.WebhookSubscription, error) {
	return p.querySubscriptions(ctx, `
		SELECT id, tenant_id, url, secret, enabled, created_at
		FROM webhook_subscriptions
		WHERE tenant_id = $1 AND enabled
		ORDER BY created_at, id
	`, tenantID)
}

func (p *Postgres) querySubscriptions(ctx context.Context, query string, tenantID int64) ([]models.WebhookSubscription, error) {
	rows, err := p.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook subscriptions: %w", err)
	}

	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.WebhookSubscription, error) {
		var s models.WebhookSubscription
		err := row.Scan(&s.ID, &s.TenantID, &s.URL, &s.Secret, &s.Enabled, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook subscriptions: %w", err)
	}
	return subs, nil
}
