// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/tomtom215/eventpipe/internal/logging"
)

type contextKey string

const tenantKey contextKey = "trusted_tenant"

// ContextWithTenant returns a context carrying a trusted tenant id.
func ContextWithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantFromContext returns the trusted tenant id, or 0 if none was set.
func TenantFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(tenantKey).(int64); ok {
		return id
	}
	return 0
}

// TenantScope resolves the trusted tenant for each request.
type TenantScope struct {
	header string
	jwt    *JWTManager
	onDeny http.HandlerFunc
}

// NewTenantScope creates the middleware. jwt may be nil to disable bearer
// tokens. onDeny writes the response for a malformed header or a bad token.
func NewTenantScope(header string, jwt *JWTManager, onDeny http.HandlerFunc) *TenantScope {
	if onDeny == nil {
		onDeny = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "invalid tenant credentials", http.StatusUnauthorized)
		}
	}
	return &TenantScope{header: header, jwt: jwt, onDeny: onDeny}
}

// Middleware returns a chi-compatible middleware.
func (s *TenantScope) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := s.resolve(r)
		if !ok {
			s.onDeny(w, r)
			return
		}
		if tenantID != 0 {
			r = r.WithContext(ContextWithTenant(r.Context(), tenantID))
		}
		next.ServeHTTP(w, r)
	})
}

// resolve returns (0, true) when the request names no trusted tenant.
func (s *TenantScope) resolve(r *http.Request) (int64, bool) {
	if s.jwt != nil {
		if token, found := bearerToken(r); found {
			claims, err := s.jwt.ValidateToken(token)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("Rejected bearer token")
				return 0, false
			}
			return claims.TenantID, true
		}
	}

	raw := strings.TrimSpace(r.Header.Get(s.header))
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
