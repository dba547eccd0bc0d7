// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWriteCheckClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transition.json")
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	state := State{
		SessionID:       "session-1",
		PreviousVersion: "v1.0.0",
		NewVersion:      "v1.1.0",
		Timestamp:       now,
	}
	if err := Write(path, state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok, err := Check(path, time.Hour, now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("Check: ok=%v err=%v", ok, err)
	}
	if got != state {
		t.Errorf("state = %+v, want %+v", got, state)
	}

	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, err := Check(path, time.Hour, now); err != nil || ok {
		t.Errorf("after Clear: ok=%v err=%v", ok, err)
	}

	// Clearing twice is fine.
	if err := Clear(path); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestCheckDiscardsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transition.json")
	written := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	if err := Write(path, State{SessionID: "s", Timestamp: written}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, ok, err := Check(path, time.Hour, written.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ok {
		t.Error("stale watchdog reported as live")
	}
}

func TestCheckMissingFile(t *testing.T) {
	_, ok, err := Check(filepath.Join(t.TempDir(), "nope.json"), time.Hour, time.Now())
	if err != nil || ok {
		t.Errorf("missing file: ok=%v err=%v", ok, err)
	}
}
