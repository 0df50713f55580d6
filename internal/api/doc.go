// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

/*
Package api exposes the pipeline over HTTP using the chi router.

Routes:

	POST /api/v1/events                 ingest one event
	GET  /api/v1/stream?tenantId=N      server-sent events
	GET  /api/v1/ws?tenantId=N          websocket stream
	GET  /api/v1/stream/last?tenantId=N last broadcast payload
	POST /api/v1/webhooks               register a subscription and replay
	GET  /api/v1/webhooks?tenantId=N    list subscriptions
	POST /api/v1/webhooks/replay        replay the latest event
	GET  /api/v1/health/live            liveness
	GET  /api/v1/health/ready           store connectivity
	GET  /metrics                       Prometheus

Every JSON response uses the models.APIResponse envelope. Ingest errors map
to the codes VALIDATION_ERROR (400), TENANT_MISMATCH (403), RATE_LIMITED
(429), SESSION_RESOLUTION_FAILED (503) and INTERNAL_ERROR (500).

Tenant scoping: a trusted tenant from the X-Tenant-ID header or a bearer
token claim (see package auth) must agree with any tenant named in the
body or query string.
*/
package api
