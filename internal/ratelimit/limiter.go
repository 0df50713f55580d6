// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package ratelimit applies fixed-window request ceilings per client IP and
// per tenant.
//
// Each scope has its own counter. The first increment in a window arms the
// window's expiry; every increment after that counts against the same
// window until it expires. A request is allowed iff the incremented value
// is at most the ceiling. Rejections never decrement or reset a counter.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
)

// Scope names used in keys, decisions and metrics.
const (
	ScopeIP     = "ip"
	ScopeTenant = "tenant"
)

// Counter increments fixed-window counters.
type Counter interface {
	// Increment adds one to key and returns the new value. If key has no
	// live window, a new one of length window starts at 1.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Decision describes the outcome of Check. Scope, Count and Limit refer to
// the scope that rejected the request, or the last scope checked.
type Decision struct {
	Allowed bool
	Scope   string
	Count   int64
	Limit   int64
}

// Limiter checks the IP scope first and only touches the tenant counter
// when the IP scope allows the request.
type Limiter struct {
	counter     Counter
	enabled     bool
	ipLimit     int64
	tenantLimit int64
	window      time.Duration
}

// New creates a limiter backed by counter.
func New(counter Counter, cfg *config.RateLimitConfig) *Limiter {
	return &Limiter{
		counter:     counter,
		enabled:     cfg.Enabled,
		ipLimit:     int64(cfg.IPLimit),
		tenantLimit: int64(cfg.TenantLimit),
		window:      cfg.Window,
	}
}

// Allowed reports whether a request from ip for tenantID is within both
// ceilings. An empty ip or a zero tenantID skips that scope.
func (l *Limiter) Allowed(ctx context.Context, ip string, tenantID int64) (bool, error) {
	d, err := l.Check(ctx, ip, tenantID)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Check is Allowed with the details of the deciding scope.
func (l *Limiter) Check(ctx context.Context, ip string, tenantID int64) (Decision, error) {
	if l == nil || !l.enabled {
		return Decision{Allowed: true}, nil
	}

	decision := Decision{Allowed: true}

	if ip != "" {
		d, err := l.checkScope(ctx, ScopeIP, ipKey(ip), l.ipLimit)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allowed {
			return d, nil
		}
		decision = d
	}

	if tenantID != 0 {
		d, err := l.checkScope(ctx, ScopeTenant, tenantKey(tenantID), l.tenantLimit)
		if err != nil {
			return Decision{}, err
		}
		decision = d
	}

	return decision, nil
}

func (l *Limiter) checkScope(ctx context.Context, scope, key string, limit int64) (Decision, error) {
	count, err := l.counter.Increment(ctx, key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s increment: %w", scope, err)
	}

	d := Decision{Allowed: count <= limit, Scope: scope, Count: count, Limit: limit}
	if !d.Allowed {
		metrics.RecordRateLimitHit(scope)
		logging.Ctx(ctx).Debug().
			Str("scope", scope).
			Str("key", key).
			Int64("count", count).
			Int64("limit", limit).
			Msg("Rate limit exceeded")
	}
	return d, nil
}

func ipKey(ip string) string {
	return ScopeIP + ":" + ip
}

func tenantKey(tenantID int64) string {
	return ScopeTenant + ":" + strconv.FormatInt(tenantID, 10)
}
