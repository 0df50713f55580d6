// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/eventpipe/internal/kvstore"
	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/models"
)

// keyPrefix namespaces guard entries in the shared BadgerDB.
const keyPrefix = "idem:"

// errKeyExists aborts the update transaction when a live record is found.
var errKeyExists = errors.New("idempotency key exists")

// BadgerGuard stores records in BadgerDB. The read and the conditional
// write happen in one read-write transaction; if two callers race, Badger
// rejects the later commit with ErrConflict and that caller is not first.
type BadgerGuard struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// NewBadgerGuard creates a guard whose records live for ttl.
func NewBadgerGuard(db *badger.DB, ttl time.Duration, opts ...Option) *BadgerGuard {
	o := buildOptions(opts)
	return &BadgerGuard{db: db, ttl: ttl, now: o.now}
}

func makeKey(key string) []byte {
	return []byte(keyPrefix + key)
}

// CheckAndSet implements Guard.
func (g *BadgerGuard) CheckAndSet(_ context.Context, key string, summary *models.EventSummary) (bool, error) {
	if key == "" {
		return true, nil
	}

	now := g.now()
	data, err := json.Marshal(record{Summary: *summary, ExpiresAt: now.Add(g.ttl)})
	if err != nil {
		return false, fmt.Errorf("failed to encode idempotency record: %w", err)
	}

	k := makeKey(key)
	err = g.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		switch {
		case err == nil:
			var existing record
			if valErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); valErr == nil && now.Before(existing.ExpiresAt) {
				return errKeyExists
			}
			// Expired or unreadable: overwrite
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		return txn.SetEntry(badger.NewEntry(k, data).WithTTL(kvstore.EntryTTL(g.ttl)))
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errKeyExists):
		return false, nil
	case errors.Is(err, badger.ErrConflict):
		logging.Debug().Str("idempotency_key", key).Msg("Concurrent idempotency write lost the race")
		return false, nil
	default:
		return false, fmt.Errorf("idempotency check-and-set: %w", err)
	}
}

// FindSummary implements Guard.
func (g *BadgerGuard) FindSummary(_ context.Context, key string) (*models.EventSummary, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	var (
		rec   record
		found bool
	)
	err := g.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !found || !g.now().Before(rec.ExpiresAt) {
		return nil, false, nil
	}

	return &rec.Summary, true, nil
}

var _ Guard = (*BadgerGuard)(nil)
