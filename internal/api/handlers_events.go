// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/eventpipe/internal/auth"
	"github.com/tomtom215/eventpipe/internal/ingest"
	"github.com/tomtom215/eventpipe/internal/models"
)

// IdempotencyKeyHeader names the client-chosen deduplication key.
const IdempotencyKeyHeader = "Idempotency-Key"

// IngestEvent handles POST /api/v1/events.
//
// 201 with the event summary on creation, 200 with the stored summary when
// the Idempotency-Key was seen before.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var body models.IngestRequest
	if !decodeBody(w, r, &body, maxEventBodyBytes) {
		return
	}
	if apiErr := validateRequest(&body); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	req := ingest.FromBody(&body)
	req.TrustedTenantID = auth.TenantFromContext(r.Context())
	req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
	req.UserAgent = r.UserAgent()
	req.IP = clientIP(r)
	req.Referrer = r.Referer()

	res, err := h.deps.Ingestor.Ingest(r.Context(), req)
	if err != nil {
		h.respondIngestError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data:   res.Summary,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(started).Milliseconds(),
			Duplicate:   res.Duplicate,
		},
	})
}
