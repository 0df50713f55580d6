// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package ingest

import (
	"errors"
	"fmt"

	"github.com/tomtom215/eventpipe/internal/validation"
)

var (
	// ErrTenantMismatch means the trusted tenant and the payload tenant differ.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrRateLimited means an IP or tenant ceiling was exceeded.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError is returned before any store access when the request is
// missing or has malformed fields.
type ValidationError struct {
	Err *validation.RequestValidationError
}

func (e *ValidationError) Error() string {
	return "invalid event: " + e.Err.Error()
}

// Unwrap exposes the field errors.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RateLimitError carries the scope that rejected the request. It matches
// ErrRateLimited with errors.Is.
type RateLimitError struct {
	Scope string
	Limit int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s ceiling of %d reached", e.Scope, e.Limit)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
