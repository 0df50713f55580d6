// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package kvstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/tomtom215/eventpipe/internal/config"
)

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer db.Close()

	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	var got []byte
	if err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	}); err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("value = %q, want v", got)
	}
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(&config.KVConfig{Path: dir + "/kv"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestGCService_StopsOnCancel(t *testing.T) {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer db.Close()

	svc := NewGCService(db, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if svc.String() != "kvstore-gc" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestLogger_Levels(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(prev)

	var buf bytes.Buffer
	l := NewLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	l.Errorf("compaction failed: %s\n", "disk full")
	l.Warningf("slow write")
	l.Infof("opened")
	l.Debugf("trace detail")

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (trace suppressed): %s", len(lines), out)
	}
	if !strings.Contains(lines[0], `"level":"error"`) || !strings.Contains(lines[0], `"message":"compaction failed: disk full"`) {
		t.Errorf("error line = %s", lines[0])
	}
	if !strings.Contains(lines[2], `"level":"debug"`) {
		t.Errorf("Infof should log at debug, got %s", lines[2])
	}
}

func TestEntryTTL(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: time.Minute, want: time.Minute + time.Second},
		{in: 1500 * time.Millisecond, want: 2500 * time.Millisecond},
		{in: 0, want: time.Second},
		{in: -time.Second, want: time.Second},
	}
	for _, tt := range tests {
		if got := EntryTTL(tt.in); got != tt.want {
			t.Errorf("EntryTTL(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
