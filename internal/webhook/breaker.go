// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package webhook

import (
	"net/url"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/eventpipe/internal/logging"
	"github.com/tomtom215/eventpipe/internal/metrics"
)

// breakers holds one circuit breaker per endpoint host.
type breakers struct {
	mu       sync.Mutex
	byHost   map[string]*gobreaker.CircuitBreaker[int]
	failures uint32
	timeout  time.Duration
}

func newBreakers(failures uint32, timeout time.Duration) *breakers {
	if failures == 0 {
		failures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &breakers{
		byHost:   make(map[string]*gobreaker.CircuitBreaker[int]),
		failures: failures,
		timeout:  timeout,
	}
}

// forURL returns the breaker for target's host, creating it on first use.
func (b *breakers) forURL(target string) *gobreaker.CircuitBreaker[int] {
	host := target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		host = u.Host
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.byHost[host]; ok {
		return cb
	}

	name := "webhook:" + host
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	threshold := b.failures
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     b.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String(), int(to))
		},
	})
	b.byHost[host] = cb
	return cb
}
