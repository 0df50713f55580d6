// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/auth"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/models"
)

// WebhookCreated is returned from POST /api/v1/webhooks.
type WebhookCreated struct {
	Subscription models.WebhookSubscription `json:"subscription"`
	Replayed     int                        `json:"replayed"`
}

// ReplayResult is returned from POST /api/v1/webhooks/replay.
type ReplayResult struct {
	TenantID  int64 `json:"tenantId"`
	Delivered int   `json:"delivered"`
}

// CreateWebhook handles POST /api/v1/webhooks. After the subscription is
// stored, the tenant's latest event is replayed to its subscriptions so a
// new endpoint can verify its integration immediately.
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	// The trusted tenant fills in an omitted tenantId; a different one is rejected.
	trusted := auth.TenantFromContext(r.Context())
	body := models.CreateWebhookRequest{TenantID: trusted}
	if !decodeBody(w, r, &body, maxWebhookBodyBytes) {
		return
	}
	if trusted != 0 && body.TenantID != trusted {
		respondError(w, http.StatusForbidden, ErrCodeTenantMismatch, "Tenant does not match credentials", nil)
		return
	}
	if apiErr := validateRequest(&body); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	sub := &models.WebhookSubscription{
		ID:        uuid.New(),
		TenantID:  body.TenantID,
		URL:       body.URL,
		Secret:    body.Secret,
		Enabled:   body.Enabled == nil || *body.Enabled,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.deps.Subscriptions.CreateSubscription(r.Context(), sub); err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to store subscription", err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Int64("tenant_id", sub.TenantID).
		Str("subscription_id", sub.ID.String()).
		Msg("Webhook subscription registered")

	replayed, err := h.deps.Replayer.ReplayLatest(r.Context(), sub.TenantID)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Int64("tenant_id", sub.TenantID).Msg("Replay after registration failed")
	}

	respondSuccess(w, http.StatusCreated, WebhookCreated{Subscription: *sub, Replayed: replayed}, started)
}

// ListWebhooks handles GET /api/v1/webhooks.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	tenantID, ok := queryTenant(w, r)
	if !ok {
		return
	}

	subs, err := h.deps.Subscriptions.ListSubscriptions(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []models.WebhookSubscription{}
	}
	respondSuccess(w, http.StatusOK, subs, started)
}

// ReplayWebhooks handles POST /api/v1/webhooks/replay.
func (h *Handler) ReplayWebhooks(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	tenantID, ok := queryTenant(w, r)
	if !ok {
		return
	}

	delivered, err := h.deps.Replayer.ReplayLatest(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Replay failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, ReplayResult{TenantID: tenantID, Delivered: delivered}, started)
}
