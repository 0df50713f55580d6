// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/models"
)

// MemoryGuard keeps records in a map. Expired entries are skipped on read
// and removed by CleanupExpired.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryGuard creates an in-memory guard whose records live for ttl.
func NewMemoryGuard(ttl time.Duration, opts ...Option) *MemoryGuard {
	o := buildOptions(opts)
	return &MemoryGuard{
		entries: make(map[string]record),
		ttl:     ttl,
		now:     o.now,
	}
}

// CheckAndSet implements Guard.
func (g *MemoryGuard) CheckAndSet(_ context.Context, key string, summary *models.EventSummary) (bool, error) {
	if key == "" {
		return true, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if existing, ok := g.entries[key]; ok && now.Before(existing.ExpiresAt) {
		return false, nil
	}
	g.entries[key] = record{Summary: *summary, ExpiresAt: now.Add(g.ttl)}
	return true, nil
}

// FindSummary implements Guard.
func (g *MemoryGuard) FindSummary(_ context.Context, key string) (*models.EventSummary, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.entries[key]
	if !ok || !g.now().Before(rec.ExpiresAt) {
		return nil, false, nil
	}
	summary := rec.Summary
	return &summary, true, nil
}

// CleanupExpired removes expired entries and returns how many were removed.
func (g *MemoryGuard) CleanupExpired(_ context.Context) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for key, rec := range g.entries {
		if !now.Before(rec.ExpiresAt) {
			delete(g.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// CleanupService runs CleanupExpired on an interval. It implements
// suture.Service.
type CleanupService struct {
	guard    *MemoryGuard
	interval time.Duration
}

// NewCleanupService creates a cleanup loop for guard.
func NewCleanupService(guard *MemoryGuard, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CleanupService{guard: guard, interval: interval}
}

// Serve runs until ctx is canceled.
func (s *CleanupService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.guard.CleanupExpired(ctx); n > 0 {
				logging.Debug().Int("removed", n).Msg("Expired idempotency keys removed")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *CleanupService) String() string {
	return "idempotency-cleanup"
}

var _ Guard = (*MemoryGuard)(nil)
