// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one ingested analytics event. Rows are written once and never
// updated.
//
// SessionID references a committed Session, or is nil when the request
// carried no session token. Properties is an opaque JSON object stored
// as-is.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"eventName"`
	TenantID   int64           `json:"tenantId"`
	UserID     *string         `json:"userId,omitempty"`
	SessionID  *uuid.UUID      `json:"sessionRef,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`

	// Request context
	UserAgent string `json:"ua,omitempty"`
	IP        string `json:"ip,omitempty"`
	Referrer  string `json:"referrer,omitempty"`

	// Parsed from UserAgent
	Device  string `json:"device,omitempty"`
	OS      string `json:"os,omitempty"`
	Browser string `json:"browser,omitempty"`

	EventTime  time.Time `json:"eventTime"`
	RecordedAt time.Time `json:"recordedAt"`

	// IdempotencyKey is the client's Idempotency-Key, unique per tenant
	// when set.
	IdempotencyKey string `json:"-"`
}

// Summary returns the client-facing summary of a persisted event.
func (e *Event) Summary(externalSessionID string) EventSummary {
	return EventSummary{
		ID:         e.ID,
		EventName:  e.Name,
		TenantID:   e.TenantID,
		SessionID:  externalSessionID,
		EventTime:  e.EventTime,
		RecordedAt: e.RecordedAt,
	}
}

// StreamMessage returns the payload pushed to live subscribers.
func (e *Event) StreamMessage() StreamMessage {
	return StreamMessage{ID: e.ID, EventName: e.Name, EventTime: e.EventTime}
}

// WebhookPayload returns the body POSTed to webhook endpoints.
func (e *Event) WebhookPayload() WebhookPayload {
	return WebhookPayload{EventID: e.ID, EventName: e.Name, TenantID: e.TenantID}
}

// EventSummary is returned from the ingest endpoint and stored under the
// request's Idempotency-Key so a retried request gets the same answer.
type EventSummary struct {
	ID         uuid.UUID `json:"id"`
	EventName  string    `json:"eventName"`
	TenantID   int64     `json:"tenantId"`
	SessionID  string    `json:"sessionId,omitempty"`
	EventTime  time.Time `json:"eventTime"`
	RecordedAt time.Time `json:"recordedAt"`
}

// StreamMessage is pushed to SSE and websocket subscribers.
//
//	{"id": "6f1c...", "eventName": "pv", "eventTime": "2026-03-01T12:00:00Z"}
type StreamMessage struct {
	ID        uuid.UUID `json:"id"`
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
}

// WebhookPayload is the body delivered to webhook endpoints.
//
//	{"eventId": "6f1c...", "eventName": "pv", "tenantId": 1}
type WebhookPayload struct {
	EventID   uuid.UUID `json:"eventId"`
	EventName string    `json:"eventName"`
	TenantID  int64     `json:"tenantId"`
}
