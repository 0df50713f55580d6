// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookSubscription is a tenant-registered delivery endpoint.
// The ingest path only reads subscriptions.
type WebhookSubscription struct {
	ID        uuid.UUID `json:"id"`
	TenantID  int64     `json:"tenantId"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasSecret reports whether deliveries must be signed.
func (w *WebhookSubscription) HasSecret() bool {
	return w.Secret != ""
}

// CreateWebhookRequest is the body of POST /api/v1/webhooks.
type CreateWebhookRequest struct {
	TenantID int64  `json:"tenantId" validate:"required,min=1"`
	URL      string `json:"url" validate:"required,url,startswith=http"`
	Secret   string `json:"secret,omitempty" validate:"omitempty,min=16,max=256"`
	Enabled  *bool  `json:"enabled,omitempty"`
}
