// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package kvstore

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Logger routes Badger's printf-style logging through zerolog.
// Badger emits at info level on every open and compaction, so info is
// demoted to debug.
type Logger struct {
	log zerolog.Logger
}

// NewLogger wraps l as a badger.Logger.
func NewLogger(l zerolog.Logger) *Logger {
	return &Logger{log: l}
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(trim(format, args...))
}

// Warningf logs at warn level.
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msg(trim(format, args...))
}

// Infof logs at debug level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msg(trim(format, args...))
}

// Debugf logs at trace level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msg(trim(format, args...))
}

func trim(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
