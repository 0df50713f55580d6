// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package broadcast pushes newly ingested events to live dashboard
// subscribers, grouped by tenant.
//
// Delivery is best effort. A subscriber whose Send fails is closed and
// removed; it is never retried and never affects the other subscribers or
// the caller. The last payload per tenant is kept so late pollers can read
// it without holding a connection open.
//
// Transports:
//   - SSEStream: server-sent events over a plain HTTP response
//   - WebSocketClient: gorilla/websocket with read/write pumps
package broadcast

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
	"github.com/tomtom215/eventpipe/internal/models"
)

var (
	// ErrBufferFull is returned by Send when the subscriber is not keeping up.
	ErrBufferFull = errors.New("subscriber send buffer full")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("subscriber closed")
)

// Subscriber receives stream messages for one tenant.
type Subscriber interface {
	// ID is unique per process.
	ID() uint64

	// Send queues msg without blocking.
	Send(msg models.StreamMessage) error

	// Close releases the subscriber. It must be safe to call more than once.
	Close()
}

// subscriberIDCounter hands out subscriber ids. Ids increase monotonically,
// which gives Broadcast a stable delivery order.
var subscriberIDCounter atomic.Uint64

// NextSubscriberID returns a fresh subscriber id.
func NextSubscriberID() uint64 {
	return subscriberIDCounter.Add(1)
}

// Broadcaster keeps per-tenant subscriber sets. It is safe for concurrent use.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]map[uint64]Subscriber
	last        map[int64]models.StreamMessage
}

// New creates an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int64]map[uint64]Subscriber),
		last:        make(map[int64]models.StreamMessage),
	}
}

// Subscribe registers sub for tenantID and returns a func that removes it.
func (b *Broadcaster) Subscribe(tenantID int64, sub Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	set, ok := b.subscribers[tenantID]
	if !ok {
		set = make(map[uint64]Subscriber)
		b.subscribers[tenantID] = set
	}
	set[sub.ID()] = sub
	total := len(set)
	b.mu.Unlock()

	logging.Debug().
		Int64("tenant_id", tenantID).
		Uint64("subscriber_id", sub.ID()).
		Int("tenant_subscribers", total).
		Msg("Stream subscriber registered")

	return func() {
		b.remove(tenantID, sub.ID())
	}
}

// remove deletes a subscriber and reports whether it was present.
func (b *Broadcaster) remove(tenantID int64, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[tenantID]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.subscribers, tenantID)
	}
	return true
}

// Broadcast records msg as the tenant's last message and sends it to every
// subscriber registered at the time of the call.
func (b *Broadcaster) Broadcast(tenantID int64, msg models.StreamMessage) {
	b.mu.Lock()
	b.last[tenantID] = msg
	b.mu.Unlock()

	for _, sub := range b.snapshot(tenantID) {
		if err := sub.Send(msg); err != nil {
			b.drop(tenantID, sub, err)
			continue
		}
		metrics.StreamMessagesSent.Inc()
	}
}

// snapshot copies the tenant's subscribers in id order so sends happen
// outside the lock.
func (b *Broadcaster) snapshot(tenantID int64) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set := b.subscribers[tenantID]
	if len(set) == 0 {
		return nil
	}
	subs := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID() < subs[j].ID() })
	return subs
}

func (b *Broadcaster) drop(tenantID int64, sub Subscriber, cause error) {
	if !b.remove(tenantID, sub.ID()) {
		return
	}
	sub.Close()
	metrics.StreamSubscribersDropped.Inc()
	logging.Warn().
		Err(cause).
		Int64("tenant_id", tenantID).
		Uint64("subscriber_id", sub.ID()).
		Msg("Stream subscriber dropped after failed send")
}

// LastMessage returns the last message broadcast for tenantID.
func (b *Broadcaster) LastMessage(tenantID int64) (models.StreamMessage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.last[tenantID]
	return msg, ok
}

// SubscriberCount returns the number of subscribers for tenantID.
func (b *Broadcaster) SubscriberCount(tenantID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[tenantID])
}

// CloseAll closes and removes every subscriber. Used on shutdown.
func (b *Broadcaster) CloseAll() int {
	b.mu.Lock()
	all := b.subscribers
	b.subscribers = make(map[int64]map[uint64]Subscriber)
	b.mu.Unlock()

	closed := 0
	for _, set := range all {
		for _, sub := range set {
			sub.Close()
			closed++
		}
	}
	if closed > 0 {
		logging.Info().Int("subscribers", closed).Msg("Closed all stream subscribers")
	}
	return closed
}
