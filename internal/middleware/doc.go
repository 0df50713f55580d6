// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

/*
Package middleware provides HTTP middleware shared by all routes.

All middleware uses the chi signature func(http.Handler) http.Handler.

Key Components:

  - RequestID: request and correlation ids in the header and logging context
  - PrometheusMetrics: request counts, latency and in-flight gauge

The typical stack is:

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

Streaming routes (SSE and websocket) must not be wrapped in chi's Compress.
The metrics writer passes Flush and Hijack through to the underlying writer
so those routes still work behind PrometheusMetrics.
*/
package middleware
