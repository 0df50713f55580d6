// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package main is the entry point for the Eventpipe server.
//
// Eventpipe accepts analytics events over HTTP, resolves each event's
// session exactly once per (tenant, session id), stores the event, pushes
// it to live SSE and websocket subscribers and delivers it to tenant
// webhooks.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional config.yaml and environment (koanf)
//  2. Event store: PostgreSQL (pgx) or the in-process memory store
//  3. Local state: badger for rate-limit windows and idempotency keys
//  4. Pipeline: session registry, broadcaster, webhook dispatcher, ingestor
//  5. Fan-out bus: watermill gochannel, or NATS JetStream with -tags nats
//  6. HTTP server: chi router, run under the suture supervisor tree
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. Live streams are closed, the
// HTTP server drains within SERVER_SHUTDOWN_TIMEOUT and the stores close.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/supervisor"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	logging.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr()).
		Str("store", cfg.Database.Driver).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting Eventpipe")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer app.Close()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	app.Register(tree, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	logging.Info().Msg("Application stopped gracefully")
}
