// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNowAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := Fake(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now = %v, want %v", got, start)
	}

	clock.Advance(90 * time.Second)
	if got := clock.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now after Advance = %v", got)
	}
}

func TestFakeAfterFiresInOrder(t *testing.T) {
	clock := Fake(time.Unix(0, 0))

	short := clock.After(time.Second)
	long := clock.After(time.Minute)

	clock.Advance(time.Second)
	select {
	case <-short:
	default:
		t.Fatal("short waiter did not fire")
	}
	select {
	case <-long:
		t.Fatal("long waiter fired early")
	default:
	}

	clock.Advance(time.Minute)
	select {
	case <-long:
	default:
		t.Fatal("long waiter did not fire")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	clock := Fake(time.Unix(0, 0))
	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
	if clock.PendingWaiters() != 0 {
		t.Errorf("PendingWaiters = %d, want 0", clock.PendingWaiters())
	}
}

func TestFakeSleepUnblocks(t *testing.T) {
	clock := Fake(time.Unix(0, 0))
	done := make(chan struct{})

	go func() {
		clock.Sleep(5 * time.Second)
		close(done)
	}()

	// Wait for the sleeper to register before advancing.
	for clock.PendingWaiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	clock.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
