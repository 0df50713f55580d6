// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package idempotency records the response to the first request carrying a
// given Idempotency-Key so retries get the same answer instead of being
// processed again.
//
// CheckAndSet is first-writer-wins: exactly one caller per key and TTL
// window sees true. An empty key disables the guard: CheckAndSet always
// returns true and FindSummary never finds anything.
package idempotency

import (
	"context"
	"time"

	"github.com/tomtom215/eventpipe/internal/models"
)

// Guard is implemented by BadgerGuard and MemoryGuard.
type Guard interface {
	// CheckAndSet stores summary under key if the key is absent or expired.
	// Returns true iff this call stored it.
	CheckAndSet(ctx context.Context, key string, summary *models.EventSummary) (bool, error)

	// FindSummary returns the summary stored under key, if any.
	FindSummary(ctx context.Context, key string) (*models.EventSummary, bool, error)
}

// record is the stored value. ExpiresAt is checked against the guard's
// clock so expiry does not depend on backend TTL granularity.
type record struct {
	Summary   models.EventSummary `json:"summary"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Option configures a guard.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
