// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/eventpipe/internal/broadcast"
	"github.com/tomtom215/eventpipe/internal/logging"
)

// StreamSSE handles GET /api/v1/stream. The connection stays open until the
// client disconnects, the subscriber is dropped, or the server shuts down.
func (h *Handler) StreamSSE(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := queryTenant(w, r)
	if !ok {
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Streaming unsupported", broadcast.ErrStreamingUnsupported)
		return
	}

	stream := broadcast.NewSSEStream(tenantID, h.cfg.Broadcast.BufferSize, h.cfg.Broadcast.HeartbeatInterval)
	unsubscribe := h.deps.Broadcaster.Subscribe(tenantID, stream)
	defer unsubscribe()

	if err := stream.Serve(r.Context(), w); err != nil && !errors.Is(err, r.Context().Err()) {
		logging.Ctx(r.Context()).Debug().Err(err).Int64("tenant_id", tenantID).Msg("SSE stream ended")
	}
}

// StreamWebSocket handles GET /api/v1/ws.
func (h *Handler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := queryTenant(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := broadcast.NewWebSocketClient(conn, tenantID, h.cfg.Broadcast.BufferSize)
	unsubscribe := h.deps.Broadcaster.Subscribe(tenantID, client)
	client.Run(unsubscribe)
}

// StreamLast handles GET /api/v1/stream/last for clients that poll instead
// of holding a connection.
func (h *Handler) StreamLast(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	tenantID, ok := queryTenant(w, r)
	if !ok {
		return
	}

	msg, found := h.deps.Broadcaster.LastMessage(tenantID)
	if !found {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No events broadcast for tenant", nil)
		return
	}
	respondSuccess(w, http.StatusOK, msg, started)
}
