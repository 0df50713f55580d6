// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package testinfra provides test infrastructure for integration testing with containers.
//
// Everything except this file is built only with the integration tag:
//
//	go test -tags integration ./...
//
// # Postgres Container
//
// NewPostgresContainer starts a throwaway Postgres instance:
//
//	func TestSomething(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    t.Cleanup(func() { testinfra.CleanupContainer(t, context.Background(), pg) })
//
//	    st, err := store.NewPostgres(ctx, &config.DatabaseConfig{URL: pg.ConnectionString})
//	    // ...
//	}
//
// # Webhook Receiver
//
// MockWebhookServer captures deliveries so tests can assert on payloads and
// signature headers.
//
// # CI Considerations
//
// Tests are skipped gracefully if Docker is unavailable. First runs download
// the container image; later runs use the cached image.
package testinfra
