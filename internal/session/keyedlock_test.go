// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package session

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedLocker_MutualExclusion(t *testing.T) {
	l := NewKeyedLocker[string]()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("k")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max holders = %d, want 1", maxSeen)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d after all releases, want 0", l.Len())
	}
}

func TestKeyedLocker_EntryKeptWhileWaited(t *testing.T) {
	l := NewKeyedLocker[string]()

	unlock := l.Lock("k")
	acquired := make(chan func())
	go func() { acquired <- l.Lock("k") }()

	// Give the waiter time to register
	time.Sleep(10 * time.Millisecond)
	unlock()

	second := <-acquired
	if l.Len() != 1 {
		t.Errorf("Len() = %d while second holder active, want 1", l.Len())
	}
	second()
	second() // release is idempotent
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestKeyedLocker_IndependentKeys(t *testing.T) {
	l := NewKeyedLocker[int]()

	unlockA := l.Lock(1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock(2)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on key 2 blocked behind key 1")
	}
}
