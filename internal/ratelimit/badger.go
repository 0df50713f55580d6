// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/eventpipe/internal/kvstore"
)

const (
	keyPrefix = "rl:"

	// maxConflictRetries bounds retries when concurrent increments of the
	// same key collide.
	maxConflictRetries = 100
)

// ErrTooManyConflicts is returned when an increment keeps losing
// transaction conflicts.
var ErrTooManyConflicts = errors.New("rate limit counter: too many transaction conflicts")

// window is the stored counter state.
type window struct {
	Count     int64     `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BadgerCounter keeps counters in BadgerDB. Each increment is a single
// read-write transaction, retried when Badger reports a conflict.
type BadgerCounter struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerCounter creates a counter on db.
func NewBadgerCounter(db *badger.DB, opts ...Option) *BadgerCounter {
	o := buildOptions(opts)
	return &BadgerCounter{db: db, now: o.now}
}

// Increment implements Counter.
func (c *BadgerCounter) Increment(ctx context.Context, key string, length time.Duration) (int64, error) {
	k := []byte(keyPrefix + key)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		count, err := c.incrementOnce(k, length)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("increment %s: %w", key, err)
		}
		return count, nil
	}
	return 0, ErrTooManyConflicts
}

func (c *BadgerCounter) incrementOnce(k []byte, length time.Duration) (int64, error) {
	var count int64
	err := c.db.Update(func(txn *badger.Txn) error {
		now := c.now()
		var w window

		item, err := txn.Get(k)
		switch {
		case err == nil:
			if valErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			}); valErr != nil {
				w = window{}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if !now.Before(w.ExpiresAt) {
			// First increment of a new window re-arms the expiry
			w = window{ExpiresAt: now.Add(length)}
		}
		w.Count++

		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		ttl := kvstore.EntryTTL(w.ExpiresAt.Sub(now))
		if err := txn.SetEntry(badger.NewEntry(k, data).WithTTL(ttl)); err != nil {
			return err
		}
		count = w.Count
		return nil
	})
	return count, err
}

var _ Counter = (*BadgerCounter)(nil)
