// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

/*
Package models defines the data structures shared across Eventpipe.

Key Components:

  - Session: server-side record correlating a client session token with a
    tenant and an optional user
  - Event: one ingested analytics event, immutable after insert
  - EventSummary: the response body for an ingest call, also the value
    stored under an Idempotency-Key
  - WebhookSubscription: a tenant-registered delivery endpoint
  - StreamMessage / WebhookPayload: the wire shapes pushed to live
    subscribers and webhook endpoints
  - APIResponse: the standard HTTP response envelope

Wire format uses camelCase JSON field names for the client-facing shapes
(events, stream and webhook payloads) and snake_case for the envelope
metadata, matching what dashboards already consume.
*/
package models
