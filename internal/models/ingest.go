// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package models

import (
	"encoding/json"
	"time"
)

// IngestRequest is the body of POST /api/v1/events.
//
// SessionID is required on the HTTP surface. TenantID is optional in the
// body; when a trusted tenant is also known (header or token claim) the two
// must agree.
type IngestRequest struct {
	EventName  string          `json:"eventName" validate:"required,max=255"`
	SessionID  string          `json:"sessionId" validate:"required,max=255"`
	UserID     string          `json:"userId,omitempty" validate:"omitempty,max=255"`
	TenantID   int64           `json:"tenantId,omitempty" validate:"omitempty,min=1"`
	Properties json.RawMessage `json:"properties,omitempty" validate:"omitempty,jsonobject"`
	EventTime  *time.Time      `json:"eventTime,omitempty"`
}
