// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package services

import (
	"context"
	"time"

	"github.com/tomtom215/eventpipe/internal/logging"
)

// Sweep removes expired entries and returns how many it removed.
type Sweep func(ctx context.Context) int

// PeriodicService runs a sweep on a fixed interval.
type PeriodicService struct {
	name     string
	interval time.Duration
	sweep    Sweep
}

// NewPeriodicService creates the service. A non-positive interval
// defaults to one minute.
func NewPeriodicService(name string, interval time.Duration, sweep Sweep) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, sweep: sweep}
}

// Serve implements suture.Service.
func (s *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.sweep(ctx); n > 0 {
				logging.Debug().Str("service", s.name).Int("removed", n).Msg("Expired entries swept")
			}
		}
	}
}

// String implements fmt.Stringer.
func (s *PeriodicService) String() string {
	return s.name
}
