// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Option configures a counter.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MemoryCounter keeps counters in a map guarded by a mutex.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter(opts ...Option) *MemoryCounter {
	o := buildOptions(opts)
	return &MemoryCounter{windows: make(map[string]window), now: o.now}
}

// Increment implements Counter.
func (c *MemoryCounter) Increment(_ context.Context, key string, length time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w := c.windows[key]
	if !now.Before(w.ExpiresAt) {
		w = window{ExpiresAt: now.Add(length)}
	}
	w.Count++
	c.windows[key] = w
	return w.Count, nil
}

// CleanupExpired drops finished windows and returns how many were removed.
func (c *MemoryCounter) CleanupExpired(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, w := range c.windows {
		if !now.Before(w.ExpiresAt) {
			delete(c.windows, key)
			removed++
		}
	}
	return removed
}

var _ Counter = (*MemoryCounter)(nil)
