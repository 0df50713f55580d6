// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package models

import (
	"time"

	"github.com/google/uuid"
)

// Session correlates a client-supplied session token with a tenant.
//
// Exactly one row exists per (TenantID, ExternalID). UserID starts nil for
// anonymous sessions and can be set once; it never returns to nil.
type Session struct {
	ID             uuid.UUID `json:"id"`
	ExternalID     string    `json:"externalId"`
	TenantID       int64     `json:"tenantId"`
	UserID         *string   `json:"userId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Anonymous reports whether the session has no user attached yet.
func (s *Session) Anonymous() bool {
	return s.UserID == nil || *s.UserID == ""
}

// SessionKey identifies a session within the registry.
type SessionKey struct {
	TenantID   int64
	ExternalID string
}
