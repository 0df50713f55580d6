// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/kvstore"
)

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

func counterFactories(t *testing.T) map[string]func(clock *fakeClock) Counter {
	t.Helper()
	return map[string]func(clock *fakeClock) Counter{
		"memory": func(clock *fakeClock) Counter {
			return NewMemoryCounter(WithClock(clock.Now))
		},
		"badger": func(clock *fakeClock) Counter {
			db, err := kvstore.OpenInMemory()
			if err != nil {
				t.Fatalf("OpenInMemory() error = %v", err)
			}
			t.Cleanup(func() { _ = db.Close() })
			return NewBadgerCounter(db, WithClock(clock.Now))
		},
	}
}

func testConfig(ipLimit, tenantLimit int) *config.RateLimitConfig {
	return &config.RateLimitConfig{
		Enabled:     true,
		IPLimit:     ipLimit,
		TenantLimit: tenantLimit,
		Window:      time.Minute,
	}
}

func TestLimiter_CeilingAndWindowRollover(t *testing.T) {
	for name, build := range counterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			l := New(build(clock), testConfig(3, 100))

			for i := 1; i <= 3; i++ {
				ok, err := l.Allowed(ctx, "10.0.0.1", 0)
				if err != nil || !ok {
					t.Fatalf("call %d: Allowed() = %v, %v; want true", i, ok, err)
				}
			}

			ok, err := l.Allowed(ctx, "10.0.0.1", 0)
			if err != nil || ok {
				t.Fatalf("call 4: Allowed() = %v, %v; want false", ok, err)
			}

			// Rejections keep counting inside the window
			clock.Advance(30 * time.Second)
			if ok, _ := l.Allowed(ctx, "10.0.0.1", 0); ok {
				t.Fatal("call inside the same window should still be rejected")
			}

			clock.Advance(31 * time.Second)
			ok, err = l.Allowed(ctx, "10.0.0.1", 0)
			if err != nil || !ok {
				t.Fatalf("first call of next window: Allowed() = %v, %v; want true", ok, err)
			}
		})
	}
}

func TestLimiter_IPRejectionDoesNotConsumeTenantBudget(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	counter := NewMemoryCounter(WithClock(clock.Now))
	l := New(counter, testConfig(1, 2))

	if ok, _ := l.Allowed(ctx, "10.0.0.1", 7); !ok {
		t.Fatal("first request should be allowed")
	}
	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "10.0.0.1", 7)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if d.Allowed || d.Scope != ScopeIP {
			t.Fatalf("Check() = %+v, want rejection by ip scope", d)
		}
	}

	// Tenant counter saw only the first request, so another IP still fits
	d, err := l.Check(ctx, "10.0.0.2", 7)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !d.Allowed || d.Scope != ScopeTenant || d.Count != 2 {
		t.Errorf("Check() = %+v, want allowed tenant count 2", d)
	}

	d, _ = l.Check(ctx, "10.0.0.3", 7)
	if d.Allowed || d.Scope != ScopeTenant || d.Limit != 2 {
		t.Errorf("Check() = %+v, want tenant rejection", d)
	}
}

func TestLimiter_SkipsEmptyScopes(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryCounter(), testConfig(1, 1))

	for i := 0; i < 5; i++ {
		if ok, err := l.Allowed(ctx, "", 0); err != nil || !ok {
			t.Fatalf("Allowed(\"\", 0) = %v, %v; want true", ok, err)
		}
	}
}

func TestLimiter_Disabled(t *testing.T) {
	cfg := testConfig(1, 1)
	cfg.Enabled = false
	l := New(NewMemoryCounter(), cfg)

	for i := 0; i < 5; i++ {
		if ok, _ := l.Allowed(context.Background(), "10.0.0.1", 1); !ok {
			t.Fatal("disabled limiter should allow everything")
		}
	}
}

func TestLimiter_ConcurrentExactCeiling(t *testing.T) {
	for name, build := range counterFactories(t) {
		t.Run(name, func(t *testing.T) {
			const (
				limit   = 20
				callers = 60
			)
			ctx := context.Background()
			l := New(build(newFakeClock()), testConfig(limit, 1000))

			var (
				wg      sync.WaitGroup
				allowed atomic.Int32
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := l.Allowed(ctx, "10.0.0.9", 0)
					if err != nil {
						t.Errorf("Allowed() error = %v", err)
						return
					}
					if ok {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := allowed.Load(); got != limit {
				t.Errorf("allowed = %d, want exactly %d", got, limit)
			}
		})
	}
}

func TestMemoryCounter_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemoryCounter(WithClock(clock.Now))

	_, _ = c.Increment(ctx, "a", time.Second)
	_, _ = c.Increment(ctx, "b", time.Hour)
	clock.Advance(2 * time.Second)

	if n := c.CleanupExpired(ctx); n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}
	if got, _ := c.Increment(ctx, "b", time.Hour); got != 2 {
		t.Errorf("Increment(b) = %d, want 2", got)
	}
}

func TestBadgerCounter_CanceledContext(t *testing.T) {
	db, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewBadgerCounter(db).Increment(ctx, "k", time.Minute); err == nil {
		t.Error("Increment() with canceled context should fail")
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

func TestBadgerCounter_WallClockWindowBoundary(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the wall clock")
	}
	db, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	l := New(NewBadgerCounter(db), &config.RateLimitConfig{
		Enabled: true,
		IPLimit: 2,
		Window:  time.Second,
	})

	// Late in a wall second, so truncating the entry expiry would drop the
	// key before the window ends.
	sleepUntilSubsecond(900 * time.Millisecond)
	for i := 1; i <= 2; i++ {
		if ok, err := l.Allowed(ctx, "10.0.0.1", 0); err != nil || !ok {
			t.Fatalf("call %d: Allowed() = %v, %v; want true", i, ok, err)
		}
	}

	time.Sleep(200 * time.Millisecond)
	if ok, err := l.Allowed(ctx, "10.0.0.1", 0); err != nil || ok {
		t.Fatalf("call 3 inside the window: Allowed() = %v, %v; want false", ok, err)
	}

	time.Sleep(time.Second)
	if ok, err := l.Allowed(ctx, "10.0.0.1", 0); err != nil || !ok {
		t.Errorf("first call of the next window: Allowed() = %v, %v; want true", ok, err)
	}
}
