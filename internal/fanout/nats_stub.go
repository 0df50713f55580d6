// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

//go:build !nats

package fanout

import (
	"errors"

	"github.com/tomtom215/eventpipe/internal/config"
)

// NATSAvailable reports whether this binary was built with NATS support.
const NATSAvailable = false

// ErrNATSUnavailable is returned by NewNATSBus in builds without -tags nats.
var ErrNATSUnavailable = errors.New("NATS bus not available: build with -tags=nats")

// NewNATSBus always fails without -tags nats.
func NewNATSBus(_ *config.NATSConfig, _ string) (*Bus, error) {
	return nil, ErrNATSUnavailable
}
