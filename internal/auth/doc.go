// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

/*
Package auth derives the trusted tenant for a request.

A tenant is trusted when it comes from the configured tenant header (set by
an upstream gateway) or from the tenant_id claim of an HS256 bearer token
signed with the configured secret. The TenantScope middleware stores it in
the request context; handlers read it with TenantFromContext and compare it
with any tenant named in the payload.

A request with neither source is not rejected here. Whether the payload
tenant alone is acceptable is decided by the handler.
*/
package auth
