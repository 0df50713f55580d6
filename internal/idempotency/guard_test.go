// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/kvstore"
	"github.com/tomtom215/eventpipe/internal/models"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testTTL = time.Hour

// guardFactories builds each implementation against the same clock.
func guardFactories(t *testing.T) map[string]func(clock *fakeClock) Guard {
	t.Helper()
	return map[string]func(clock *fakeClock) Guard{
		"memory": func(clock *fakeClock) Guard {
			return NewMemoryGuard(testTTL, WithClock(clock.Now))
		},
		"badger": func(clock *fakeClock) Guard {
			db, err := kvstore.OpenInMemory()
			if err != nil {
				t.Fatalf("OpenInMemory() error = %v", err)
			}
			t.Cleanup(func() { _ = db.Close() })
			return NewBadgerGuard(db, testTTL, WithClock(clock.Now))
		},
	}
}

func summary(name string) *models.EventSummary {
	return &models.EventSummary{ID: uuid.New(), EventName: name, TenantID: 1}
}

func TestGuard_FirstWriterWins(t *testing.T) {
	for name, build := range guardFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			g := build(clock)

			s1 := summary("pv")
			first, err := g.CheckAndSet(ctx, "k", s1)
			if err != nil || !first {
				t.Fatalf("first CheckAndSet() = %v, %v; want true, nil", first, err)
			}

			second, err := g.CheckAndSet(ctx, "k", summary("click"))
			if err != nil || second {
				t.Fatalf("second CheckAndSet() = %v, %v; want false, nil", second, err)
			}

			got, ok, err := g.FindSummary(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("FindSummary() = %v, %v", ok, err)
			}
			if got.ID != s1.ID || got.EventName != "pv" {
				t.Errorf("FindSummary() = %+v, want first summary %+v", got, s1)
			}
		})
	}
}

func TestGuard_ExpiredKeyIsReusable(t *testing.T) {
	for name, build := range guardFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			g := build(clock)

			if ok, _ := g.CheckAndSet(ctx, "k", summary("pv")); !ok {
				t.Fatal("first CheckAndSet() should succeed")
			}

			clock.Advance(testTTL - time.Second)
			if ok, _ := g.CheckAndSet(ctx, "k", summary("pv")); ok {
				t.Fatal("CheckAndSet() inside the TTL should return false")
			}

			clock.Advance(2 * time.Second)
			if _, found, _ := g.FindSummary(ctx, "k"); found {
				t.Error("FindSummary() should not return an expired record")
			}

			s3 := summary("again")
			ok, err := g.CheckAndSet(ctx, "k", s3)
			if err != nil || !ok {
				t.Fatalf("CheckAndSet() after TTL = %v, %v; want true, nil", ok, err)
			}
			got, _, _ := g.FindSummary(ctx, "k")
			if got == nil || got.ID != s3.ID {
				t.Errorf("FindSummary() after reuse = %+v, want %v", got, s3.ID)
			}
		})
	}
}

func TestGuard_EmptyKeyDisablesGuard(t *testing.T) {
	for name, build := range guardFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := build(newFakeClock())

			for i := 0; i < 3; i++ {
				ok, err := g.CheckAndSet(ctx, "", summary("pv"))
				if err != nil || !ok {
					t.Fatalf("CheckAndSet(\"\") call %d = %v, %v; want true, nil", i, ok, err)
				}
			}
			if _, found, _ := g.FindSummary(ctx, ""); found {
				t.Error("FindSummary(\"\") should never find a record")
			}
		})
	}
}

func TestGuard_ConcurrentCheckAndSet(t *testing.T) {
	for name, build := range guardFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := build(newFakeClock())

			const callers = 32
			var (
				wg    sync.WaitGroup
				wins  atomic.Int32
				start = make(chan struct{})
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					ok, err := g.CheckAndSet(ctx, "race", summary("pv"))
					if err != nil {
						t.Errorf("CheckAndSet() error = %v", err)
						return
					}
					if ok {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			if got := wins.Load(); got != 1 {
				t.Errorf("winners = %d, want exactly 1", got)
			}
		})
	}
}

func TestMemoryGuard_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	g := NewMemoryGuard(testTTL, WithClock(clock.Now))

	_, _ = g.CheckAndSet(ctx, "old", summary("pv"))
	clock.Advance(testTTL / 2)
	_, _ = g.CheckAndSet(ctx, "new", summary("pv"))
	clock.Advance(testTTL/2 + time.Second)

	if removed := g.CleanupExpired(ctx); removed != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", removed)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
	if _, found, _ := g.FindSummary(ctx, "new"); !found {
		t.Error("unexpired key was removed")
	}
}

func TestCleanupService_StopsOnCancel(t *testing.T) {
	svc := NewCleanupService(NewMemoryGuard(testTTL), 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

// sleepUntilSubsecond waits until the wall clock is offset into a second.
func sleepUntilSubsecond(offset time.Duration) {
	wait := offset - time.Duration(time.Now().Nanosecond())
	if wait < 0 {
		wait += time.Second
	}
	time.Sleep(wait)
}

func TestBadgerGuard_WallClockTTLBoundary(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the wall clock")
	}
	db, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	g := NewBadgerGuard(db, time.Second)

	sleepUntilSubsecond(900 * time.Millisecond)
	first := summary("pv")
	if ok, err := g.CheckAndSet(ctx, "k", first); err != nil || !ok {
		t.Fatalf("first CheckAndSet() = %v, %v; want true", ok, err)
	}

	time.Sleep(200 * time.Millisecond)
	if ok, err := g.CheckAndSet(ctx, "k", summary("retry")); err != nil || ok {
		t.Fatalf("CheckAndSet() inside the TTL = %v, %v; want false", ok, err)
	}
	got, found, err := g.FindSummary(ctx, "k")
	if err != nil || !found || got.ID != first.ID {
		t.Fatalf("FindSummary() inside the TTL = %+v, %v, %v; want first summary", got, found, err)
	}

	time.Sleep(time.Second)
	if ok, err := g.CheckAndSet(ctx, "k", summary("later")); err != nil || !ok {
		t.Errorf("CheckAndSet() after the TTL = %v, %v; want true", ok, err)
	}
}
