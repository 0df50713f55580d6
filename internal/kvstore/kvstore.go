// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package kvstore owns the BadgerDB instance shared by the rate limiter and
// the idempotency guard. Each consumer namespaces its keys with a prefix.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/logging"
)

// Open opens (or creates) the BadgerDB described by cfg.
func Open(cfg *config.KVConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create kv directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = NewLogger(logging.WithComponent("badger"))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("Key-value store opened")
	return db, nil
}

// OpenInMemory opens a throwaway in-memory BadgerDB for tests.
func OpenInMemory() (*badger.DB, error) {
	return Open(&config.KVConfig{InMemory: true})
}

// EntryTTL converts a logical lifetime into a Badger entry TTL. Badger
// stores expiry as whole Unix seconds, truncated, so the entry outlives d by
// one second and callers decide liveness from their own embedded expiry.
func EntryTTL(d time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	return d + time.Second
}

// GCService periodically reclaims value log space. It implements
// suture.Service.
type GCService struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
}

// NewGCService creates a value log GC loop for db.
func NewGCService(db *badger.DB, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &GCService{db: db, interval: interval, ratio: 0.5}
}

// Serve runs until ctx is canceled.
func (s *GCService) Serve(ctx context.Context) error {
	if s.db.Opts().InMemory {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.collect()
		}
	}
}

// collect runs GC until Badger reports nothing left to rewrite.
func (s *GCService) collect() {
	for i := 0; i < 10; i++ {
		err := s.db.RunValueLogGC(s.ratio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return
		}
		if err != nil {
			logging.Warn().Err(err).Msg("Value log GC failed")
			return
		}
	}
}

// String names the service in supervisor logs.
func (s *GCService) String() string {
	return "kvstore-gc"
}
