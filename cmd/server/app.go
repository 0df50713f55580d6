// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/eventpipe/internal/api"
	"github.com/tomtom215/eventpipe/internal/auth"
	"github.com/tomtom215/eventpipe/internal/broadcast"
	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/fanout"
	"github.com/tomtom215/eventpipe/internal/idempotency"
	"github.com/tomtom215/eventpipe/internal/ingest"
	"github.com/tomtom215/eventpipe/internal/kvstore"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/ratelimit"
	"github.com/tomtom215/eventpipe/internal/session"
	"github.com/tomtom215/eventpipe/internal/store"
	"github.com/tomtom215/eventpipe/internal/supervisor"
	"github.com/tomtom215/eventpipe/internal/supervisor/services"
	"github.com/tomtom215/eventpipe/internal/useragent"
	"github.com/tomtom215/eventpipe/internal/webhook"
)

const (
	kvGCInterval      = 5 * time.Minute
	sweepInterval     = time.Minute
	storeSetupTimeout = 30 * time.Second
)

// app holds the constructed components and the maintenance services that
// belong to whichever backends were chosen.
type app struct {
	store       store.Store
	kv          *badger.DB
	bus         *fanout.Bus
	broadcaster *broadcast.Broadcaster
	consumer    *fanout.Consumer
	handler     http.Handler

	storageServices []suture.Service
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	st, err := openStore(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store = st

	guard, counter, err := a.openLocalState(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	bus, err := openBus(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.bus = bus

	a.broadcaster = broadcast.New()
	dispatcher := webhook.NewDispatcher(st, st, &cfg.Webhook)
	a.consumer = fanout.NewConsumer(bus, dispatcher, "webhooks", fanout.WithWorkers(cfg.Fanout.Workers))

	ingestor := ingest.New(ingest.Deps{
		Sessions:    session.NewRegistry(st, &cfg.Session),
		Events:      st,
		Guard:       guard,
		Limiter:     ratelimit.New(counter, &cfg.RateLimit),
		Broadcaster: a.broadcaster,
		Publisher:   bus,
		UserAgents:  useragent.NewParser(),
	})

	var jwt *auth.JWTManager
	if cfg.Security.JWTSecret != "" {
		if jwt, err = auth.NewJWTManager(cfg.Security.JWTSecret); err != nil {
			a.Close()
			return nil, err
		}
		logging.Info().Msg("Bearer token tenant scoping enabled")
	}

	handler := api.NewHandler(cfg, api.Deps{
		Ingestor:      ingestor,
		Broadcaster:   a.broadcaster,
		Subscriptions: st,
		Replayer:      dispatcher,
		Health:        st,
	})
	a.handler = api.NewRouter(handler, jwt).SetupChi()
	return a, nil
}

func openStore(ctx context.Context, cfg *config.DatabaseConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		logging.Warn().Msg("Using in-memory event store; data is lost on restart")
		return store.NewMemory(), nil
	}

	setupCtx, cancel := context.WithTimeout(ctx, storeSetupTimeout)
	defer cancel()

	pg, err := store.NewPostgres(setupCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.EnsureSchema(setupCtx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logging.Info().Msg("PostgreSQL event store ready")
	return pg, nil
}

// openLocalState picks where rate-limit windows and idempotency keys live.
// The memory store pairs with in-process maps; otherwise badger holds them.
func (a *app) openLocalState(cfg *config.Config) (idempotency.Guard, ratelimit.Counter, error) {
	if cfg.Database.Driver == "memory" {
		guard := idempotency.NewMemoryGuard(cfg.Idempotency.TTL)
		counter := ratelimit.NewMemoryCounter()
		a.storageServices = append(a.storageServices,
			idempotency.NewCleanupService(guard, sweepInterval),
			services.NewPeriodicService("ratelimit-cleanup", sweepInterval, counter.CleanupExpired),
		)
		return guard, counter, nil
	}

	var (
		db  *badger.DB
		err error
	)
	if cfg.KV.InMemory {
		db, err = kvstore.OpenInMemory()
	} else {
		db, err = kvstore.Open(&cfg.KV)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open kv store: %w", err)
	}
	a.kv = db
	a.storageServices = append(a.storageServices, kvstore.NewGCService(db, kvGCInterval))
	return idempotency.NewBadgerGuard(db, cfg.Idempotency.TTL), ratelimit.NewBadgerCounter(db), nil
}

func openBus(cfg *config.Config) (*fanout.Bus, error) {
	if !cfg.NATS.Enabled {
		return fanout.NewChannelBus(&cfg.Fanout), nil
	}
	if !fanout.NATSAvailable {
		logging.Warn().Msg("NATS enabled but binary built without -tags nats; using in-process bus")
		return fanout.NewChannelBus(&cfg.Fanout), nil
	}
	bus, err := fanout.NewNATSBus(&cfg.NATS, cfg.Fanout.Topic)
	if err != nil {
		return nil, fmt.Errorf("connect NATS bus: %w", err)
	}
	logging.Info().Str("url", cfg.NATS.URL).Str("topic", bus.Topic()).Msg("NATS fan-out bus ready")
	return bus, nil
}

// Register adds every long-running service to the tree.
func (a *app) Register(tree *supervisor.SupervisorTree, cfg *config.Config) {
	for _, svc := range a.storageServices {
		tree.AddStorageService(svc)
	}

	tree.AddDeliveryService(services.NewFanoutService(a.consumer))
	tree.AddDeliveryService(services.NewStreamShutdownService(a.broadcaster))

	tree.AddAPIService(services.NewHTTPServerService(func() services.HTTPServer {
		return &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout,
			IdleTimeout:       120 * time.Second,
		}
	}, cfg.Server.ShutdownTimeout))
}

// Close releases stores in reverse order of creation.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing fan-out bus")
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing kv store")
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}
