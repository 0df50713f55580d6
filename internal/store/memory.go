// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/eventpipe/internal/models"
)

// Memory is an in-process Store. Each method holds the store mutex for its
// whole body, which gives it the same per-call atomicity as a committed
// Postgres transaction.
type Memory struct {
	mu            sync.RWMutex
	sessions      map[models.SessionKey]*models.Session
	sessionsByID  map[uuid.UUID]*models.Session
	events        []models.Event
	latest        map[int64]int // tenant -> index into events
	byIdemKey     map[idemKey]int
	subscriptions []models.WebhookSubscription
	now           func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[models.SessionKey]*models.Session),
		sessionsByID: make(map[uuid.UUID]*models.Session),
		latest:       make(map[int64]int),
		byIdemKey:    make(map[idemKey]int),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// FindSessionForUpdate returns a copy of the session and bumps its activity time.
func (m *Memory) FindSessionForUpdate(_ context.Context, tenantID int64, externalID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[models.SessionKey{TenantID: tenantID, ExternalID: externalID}]
	if !ok {
		return nil, ErrNotFound
	}
	s.LastActivityAt = m.now()
	return copySession(s), nil
}

// InsertSession inserts s unless the (tenant, external id) key exists.
func (m *Memory) InsertSession(_ context.Context, s *models.Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.SessionKey{TenantID: s.TenantID, ExternalID: s.ExternalID}
	if _, exists := m.sessions[key]; exists {
		return false, nil
	}

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := m.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.CreatedAt
	}

	stored := copySession(s)
	m.sessions[key] = stored
	m.sessionsByID[stored.ID] = stored
	return true, nil
}

// UpgradeSessionUser sets the user id only when the session is anonymous.
func (m *Memory) UpgradeSessionUser(_ context.Context, sessionID uuid.UUID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessionsByID[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if !s.Anonymous() {
		return false, nil
	}
	u := userID
	s.UserID = &u
	s.LastActivityAt = m.now()
	return true, nil
}

type idemKey struct {
	tenantID int64
	key      string
}

// InsertEvent appends an event. The referenced session must exist.
func (m *Memory) InsertEvent(_ context.Context, e *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ik := idemKey{tenantID: e.TenantID, key: e.IdempotencyKey}
	if e.IdempotencyKey != "" {
		if _, dup := m.byIdemKey[ik]; dup {
			return ErrDuplicateEvent
		}
	}
	if e.SessionID != nil {
		if _, ok := m.sessionsByID[*e.SessionID]; !ok {
			return ErrSessionNotFound
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = m.now()
	}
	if e.EventTime.IsZero() {
		e.EventTime = e.RecordedAt
	}

	m.events = append(m.events, *copyEvent(e))
	m.latest[e.TenantID] = len(m.events) - 1
	if e.IdempotencyKey != "" {
		m.byIdemKey[ik] = len(m.events) - 1
	}
	return nil
}

// FindEventByIdempotencyKey returns the tenant's event recorded under key.
func (m *Memory) FindEventByIdempotencyKey(_ context.Context, tenantID int64, key string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byIdemKey[idemKey{tenantID: tenantID, key: key}]
	if !ok || key == "" {
		return nil, ErrNotFound
	}
	e := m.events[idx]
	return copyEvent(&e), nil
}

// EventCount returns the number of stored events.
func (m *Memory) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// LatestEvent returns the last event inserted for the tenant.
func (m *Memory) LatestEvent(_ context.Context, tenantID int64) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.latest[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	e := m.events[idx]
	return copyEvent(&e), nil
}

// CreateSubscription stores a webhook subscription.
func (m *Memory) CreateSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = m.now()
	}
	m.subscriptions = append(m.subscriptions, *sub)
	return nil
}

// ListSubscriptions returns every subscription for a tenant, oldest first.
func (m *Memory) ListSubscriptions(_ context.Context, tenantID int64) ([]models.WebhookSubscription, error) {
	return m.filterSubscriptions(tenantID, false), nil
}

// ActiveSubscriptions returns enabled subscriptions for a tenant.
func (m *Memory) ActiveSubscriptions(_ context.Context, tenantID int64) ([]models.WebhookSubscription, error) {
	return m.filterSubscriptions(tenantID, true), nil
}

func (m *Memory) filterSubscriptions(tenantID int64, enabledOnly bool) []models.WebhookSubscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.WebhookSubscription, 0)
	for _, s := range m.subscriptions {
		if s.TenantID != tenantID || (enabledOnly && !s.Enabled) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() {}

// SessionCount returns the number of session rows for a key.
func (m *Memory) SessionCount(tenantID int64, externalID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[models.SessionKey{TenantID: tenantID, ExternalID: externalID}]; ok {
		return 1
	}
	return 0
}

// TotalSessions returns the number of session rows across all tenants.
func (m *Memory) TotalSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessionsByID)
}

// EventsForSession returns copies of the events that reference sessionID.
func (m *Memory) EventsForSession(sessionID uuid.UUID) []models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Event
	for i := range m.events {
		if m.events[i].SessionID != nil && *m.events[i].SessionID == sessionID {
			out = append(out, *copyEvent(&m.events[i]))
		}
	}
	return out
}

// SessionByKey returns a copy of the session for a key without touching it.
func (m *Memory) SessionByKey(tenantID int64, externalID string) (*models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[models.SessionKey{TenantID: tenantID, ExternalID: externalID}]
	if !ok {
		return nil, false
	}
	return copySession(s), true
}

func copySession(s *models.Session) *models.Session {
	c := *s
	if s.UserID != nil {
		u := *s.UserID
		c.UserID = &u
	}
	return &c
}

func copyEvent(e *models.Event) *models.Event {
	c := *e
	if e.UserID != nil {
		u := *e.UserID
		c.UserID = &u
	}
	if e.SessionID != nil {
		id := *e.SessionID
		c.SessionID = &id
	}
	if e.Properties != nil {
		c.Properties = append([]byte(nil), e.Properties...)
	}
	return &c
}

var _ Store = (*Memory)(nil)
