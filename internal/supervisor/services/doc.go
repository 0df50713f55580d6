// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

/*
Package services adapts long-running components to suture.Service.

Each wrapper implements Serve(ctx) error and String() string:

  - HTTPServerService: net/http server with graceful shutdown
  - FanoutService: the watermill consumer feeding webhook delivery
  - StreamShutdownService: closes SSE and websocket subscribers on stop
  - PeriodicService: interval sweeps such as rate-limit window expiry

Wrappers depend on small interfaces rather than the concrete packages, so
they can be tested with fakes.
*/
package services
