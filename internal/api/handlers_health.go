// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/eventpipe/internal/models"
)

// HealthStatus is returned from the health endpoints.
type HealthStatus struct {
	Status         string  `json:"status"`
	StoreConnected bool    `json:"store_connected"`
	Uptime         float64 `json:"uptime_seconds"`
}

// HealthLive reports that the process is serving requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, HealthStatus{
		Status: "alive",
		Uptime: time.Since(h.startTime).Seconds(),
	}, time.Now())
}

// HealthReady reports whether the event store answers within two seconds.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	connected := h.deps.Health != nil && h.deps.Health.Ping(ctx) == nil
	status := HealthStatus{
		Status:         "ready",
		StoreConnected: connected,
		Uptime:         time.Since(h.startTime).Seconds(),
	}
	if !connected {
		status.Status = "not_ready"
		respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
			Status: "error",
			Data:   status,
			Metadata: models.Metadata{
				Timestamp:   time.Now(),
				QueryTimeMS: time.Since(started).Milliseconds(),
			},
			Error: &models.APIError{Code: ErrCodeServiceUnavail, Message: "Event store unreachable"},
		})
		return
	}
	respondSuccess(w, http.StatusOK, status, started)
}
