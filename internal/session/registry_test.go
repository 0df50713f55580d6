// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/models"
	"github.com/tomtom215/eventpipe/internal/store"
)

func testConfig() *config.SessionConfig {
	return &config.SessionConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
}

func strPtr(s string) *string { return &s }

// laggyStore simulates a concurrent creator in another process: its insert
// always loses, and the winner's row stays invisible for hiddenReads reads.
type laggyStore struct {
	*store.Memory
	mu          sync.Mutex
	hiddenReads int
	reads       int
}

func (s *laggyStore) FindSessionForUpdate(ctx context.Context, tenantID int64, externalID string) (*models.Session, error) {
	s.mu.Lock()
	s.reads++
	hide := s.hiddenReads > 0
	if hide {
		s.hiddenReads--
	}
	s.mu.Unlock()

	if hide {
		return nil, store.ErrNotFound
	}
	return s.Memory.FindSessionForUpdate(ctx, tenantID, externalID)
}

func (s *laggyStore) InsertSession(ctx context.Context, candidate *models.Session) (bool, error) {
	winner := *candidate
	winner.ID = uuid.New()
	winner.UserID = nil
	if _, err := s.Memory.InsertSession(ctx, &winner); err != nil {
		return false, err
	}
	return false, nil
}

func TestResolve_CreatesThenFinds(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	r := NewRegistry(st, testConfig())

	first, err := r.Resolve(ctx, 1, "s1", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first.Outcome != OutcomeCreated {
		t.Errorf("Outcome = %v, want created", first.Outcome)
	}
	if !first.Session.Anonymous() {
		t.Error("new session without user should be anonymous")
	}

	second, err := r.Resolve(ctx, 1, "s1", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if second.Outcome != OutcomeFound || second.Session.ID != first.Session.ID {
		t.Errorf("second Resolve() = %v %v, want found %v", second.Outcome, second.Session.ID, first.Session.ID)
	}

	// Same token under another tenant is a different session
	other, _ := r.Resolve(ctx, 2, "s1", nil)
	if other.Session.ID == first.Session.ID {
		t.Error("sessions must be scoped per tenant")
	}
}

func TestResolve_UpgradeIsOneWay(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	r := NewRegistry(st, testConfig())

	anon, _ := r.Resolve(ctx, 1, "s1", nil)

	up, err := r.Resolve(ctx, 1, "s1", strPtr("alice"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !up.Upgraded || up.Session.UserID == nil || *up.Session.UserID != "alice" {
		t.Fatalf("Resolve() = %+v, want upgrade to alice", up)
	}
	if up.Session.ID != anon.Session.ID {
		t.Error("upgrade must keep the same session row")
	}

	again, _ := r.Resolve(ctx, 1, "s1", strPtr("bob"))
	if again.Upgraded || *again.Session.UserID != "alice" {
		t.Errorf("identified session changed user: %+v", again.Session)
	}

	noUser, _ := r.Resolve(ctx, 1, "s1", nil)
	if noUser.Session.UserID == nil {
		t.Error("user id must never return to anonymous")
	}

	empty, _ := r.Resolve(ctx, 1, "s1", strPtr(""))
	if empty.Upgraded || *empty.Session.UserID != "alice" {
		t.Error("empty user id should be treated as absent")
	}
}

func TestResolve_ConcurrentSameKeyOneRow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	// Two registries share one store, like two server processes
	registries := []*Registry{NewRegistry(st, testConfig()), NewRegistry(st, testConfig())}

	const callers = 50
	var (
		wg      sync.WaitGroup
		ids     sync.Map
		created atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := registries[i%2].Resolve(ctx, 1, "s1", nil)
			if err != nil {
				t.Errorf("Resolve() error = %v", err)
				return
			}
			if res.Outcome == OutcomeCreated {
				created.Add(1)
			}
			ids.Store(res.Session.ID, struct{}{})
		}(i)
	}
	close(start)
	wg.Wait()

	if n := st.SessionCount(1, "s1"); n != 1 {
		t.Errorf("SessionCount = %d, want 1", n)
	}
	if created.Load() != 1 {
		t.Errorf("created outcomes = %d, want 1", created.Load())
	}
	distinct := 0
	ids.Range(func(_, _ any) bool { distinct++; return true })
	if distinct != 1 {
		t.Errorf("callers resolved %d distinct ids, want 1", distinct)
	}
}

func TestResolve_ConflictRetryReadsWinner(t *testing.T) {
	ctx := context.Background()
	st := &laggyStore{Memory: store.NewMemory(), hiddenReads: 3}
	r := NewRegistry(st, testConfig())

	res, err := r.Resolve(ctx, 1, "s1", strPtr("alice"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != OutcomeConflictRetry {
		t.Errorf("Outcome = %v, want conflict_retry", res.Outcome)
	}
	// One hidden initial read, two hidden retries, then visible
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	winner, _ := st.SessionByKey(1, "s1")
	if res.Session.ID != winner.ID {
		t.Errorf("resolved %v, want winner %v", res.Session.ID, winner.ID)
	}
	if !res.Upgraded {
		t.Error("anonymous winner should be upgraded with the caller's user")
	}
	if st.TotalSessions() != 1 {
		t.Errorf("TotalSessions = %d, want 1", st.TotalSessions())
	}
}

func TestResolve_RetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	st := &laggyStore{Memory: store.NewMemory(), hiddenReads: 1000}
	r := NewRegistry(st, testConfig())

	_, err := r.Resolve(ctx, 1, "s1", nil)
	if !errors.Is(err, ErrResolutionExhausted) {
		t.Fatalf("Resolve() error = %v, want ErrResolutionExhausted", err)
	}

	st.mu.Lock()
	reads := st.reads
	st.mu.Unlock()
	// Initial read plus MaxAttempts retries
	if reads != 1+testConfig().MaxAttempts {
		t.Errorf("reads = %d, want %d", reads, 1+testConfig().MaxAttempts)
	}
}

func TestResolve_CanceledDuringBackoff(t *testing.T) {
	st := &laggyStore{Memory: store.NewMemory(), hiddenReads: 1000}
	cfg := testConfig()
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second
	r := NewRegistry(st, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := r.Resolve(ctx, 1, "s1", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Resolve() error = %v, want deadline exceeded", err)
	}
	if time.Since(started) > 500*time.Millisecond {
		t.Error("backoff wait ignored context cancellation")
	}
}

func TestResolve_RequiresExternalID(t *testing.T) {
	r := NewRegistry(store.NewMemory(), testConfig())
	if _, err := r.Resolve(context.Background(), 1, "", nil); err == nil {
		t.Error("Resolve() with empty external id should fail")
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeFound:         "found",
		OutcomeCreated:       "created",
		OutcomeConflictRetry: "conflict_retry",
		Outcome(0):           "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
