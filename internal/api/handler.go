// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/eventpipe/internal/auth"
	"github.com/tomtom215/eventpipe/internal/broadcast"
	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/ingest"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/store"
)

// Body size limits.
const (
	maxEventBodyBytes   = 64 << 10
	maxWebhookBodyBytes = 8 << 10
)

// Ingester is satisfied by *ingest.Ingestor.
type Ingester interface {
	Ingest(ctx context.Context, req *ingest.Request) (*ingest.Result, error)
}

// Replayer is satisfied by *webhook.Dispatcher.
type Replayer interface {
	ReplayLatest(ctx context.Context, tenantID int64) (int, error)
}

// Pinger reports backing store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Ingestor      Ingester
	Broadcaster   *broadcast.Broadcaster
	Subscriptions store.SubscriptionStore
	Replayer      Replayer
	Health        Pinger
}

// Handler serves the HTTP API.
type Handler struct {
	deps       Deps
	cfg        *config.Config
	rateWindow time.Duration
	startTime  time.Time
	upgrader   websocket.Upgrader
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, deps Deps) *Handler {
	h := &Handler{
		deps:       deps,
		cfg:        cfg,
		rateWindow: cfg.RateLimit.Window,
		startTime:  time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkWebSocketOrigin validates WebSocket connection origins
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Ctx(r.Context()).Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Ctx(r.Context()).Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// queryTenant resolves the tenant for read routes from the tenantId query
// parameter and the trusted tenant. It writes the error response itself.
func queryTenant(w http.ResponseWriter, r *http.Request) (int64, bool) {
	trusted := auth.TenantFromContext(r.Context())

	raw := r.URL.Query().Get("tenantId")
	if raw == "" {
		if trusted != 0 {
			return trusted, true
		}
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "tenantId is required", nil)
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, ErrCodeValidation, "tenantId must be a positive integer", nil)
		return 0, false
	}
	if trusted != 0 && trusted != id {
		respondError(w, http.StatusForbidden, ErrCodeTenantMismatch, "Tenant does not match credentials", nil)
		return 0, false
	}
	return id, true
}

// clientIP returns the caller address without a port. RealIP has already
// replaced RemoteAddr when a trusted proxy header was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
