// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

/*
Package supervisor runs the long-lived parts of the server under a suture
supervisor tree.

The tree has three layers so a crash in one does not restart the others:

	eventpipe
	├── storage-layer    kvstore GC, idempotency and rate-limit cleanup
	├── delivery-layer   fan-out consumer (webhooks), stream shutdown
	└── api-layer        HTTP server

Each layer restarts failed services with backoff. Supervisor events are
logged through sutureslog into the zerolog-backed slog handler.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddStorageService(kvstore.NewGCService(db, 5*time.Minute))
	tree.AddDeliveryService(services.NewFanoutService(consumer))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err = tree.Serve(ctx)
*/
package supervisor
