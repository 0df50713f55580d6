// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tomtom215/eventpipe/internal/ingest"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/models"
	"github.com/tomtom215/eventpipe/internal/session"
)

// Error codes for API responses
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidJSON       = "INVALID_JSON"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeTenantMismatch    = "TENANT_MISMATCH"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeSessionResolution = "SESSION_RESOLUTION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeServiceUnavail    = "SERVICE_UNAVAILABLE"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// respondIngestError maps the ingest error taxonomy onto HTTP.
func (h *Handler) respondIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ingest.ValidationError
	var rlErr *ingest.RateLimitError

	switch {
	case errors.As(err, &verr):
		apiErr := verr.Err.ToAPIError()
		respondAPIError(w, http.StatusBadRequest, &models.APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		})

	case errors.Is(err, ingest.ErrTenantMismatch):
		respondError(w, http.StatusForbidden, ErrCodeTenantMismatch, "Tenant does not match credentials", nil)

	case errors.As(err, &rlErr):
		if h.rateWindow > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.rateWindow.Seconds())))
		}
		respondAPIError(w, http.StatusTooManyRequests, &models.APIError{
			Code:    ErrCodeRateLimited,
			Message: "Rate limit exceeded",
			Details: map[string]interface{}{"scope": rlErr.Scope, "limit": rlErr.Limit},
		})

	case errors.Is(err, session.ErrResolutionExhausted):
		respondError(w, http.StatusServiceUnavailable, ErrCodeSessionResolution, "Session could not be resolved, retry later", err)

	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Event ingest failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to store event", nil)
	}
}
