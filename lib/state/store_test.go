// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	pool, err := OpenPool(filepath.Join(t.TempDir(), "state.db"), 1, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("OpenPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store, err := Open(context.Background(), pool)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func TestReleaseRecords(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	release := Release{
		Version:     "v1.0.0",
		InstallPath: "/var/lib/outpost/releases/v1.0.0",
		InstalledAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Status:      ReleaseStaged,
	}
	if err := store.UpsertRelease(ctx, release); err != nil {
		t.Fatalf("UpsertRelease: %v", err)
	}

	if err := store.SetReleaseStatus(ctx, "v1.0.0", ReleaseActive); err != nil {
		t.Fatalf("SetReleaseStatus: %v", err)
	}

	got, ok, err := store.GetRelease(ctx, "v1.0.0")
	if err != nil || !ok {
		t.Fatalf("GetRelease: ok=%v err=%v", ok, err)
	}
	if got.Status != ReleaseActive {
		t.Errorf("status = %s, want %s", got.Status, ReleaseActive)
	}
	if !got.InstalledAt.Equal(release.InstalledAt) {
		t.Errorf("installed_at = %v, want %v", got.InstalledAt, release.InstalledAt)
	}

	if err := store.SetReleaseStatus(ctx, "v9.9.9", ReleaseRetired); err == nil {
		t.Error("SetReleaseStatus on missing version should fail")
	}
}

func TestSingleActiveSessionInvariant(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := Session{
		ID:               "session-1",
		TargetVersion:    "v1.1.0",
		PreviousVersion:  "v1.0.0",
		State:            SessionChecking,
		StartedAt:        now,
		LastTransitionAt: now,
	}
	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	second := first
	second.ID = "session-2"
	if err := store.CreateSession(ctx, second); err == nil {
		t.Fatal("second non-terminal session accepted; exclusivity invariant broken")
	}

	// Finishing the first session frees the slot.
	first.State = SessionCommitted
	if err := store.SaveSession(ctx, first); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.CreateSession(ctx, second); err != nil {
		t.Fatalf("CreateSession after commit: %v", err)
	}
}

func TestSessionResumeAndRollbackQueries(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	session := Session{
		ID:               "session-1",
		TargetVersion:    "v1.1.0",
		PreviousVersion:  "v1.0.0",
		State:            SessionVerifying,
		StartedAt:        now,
		LastTransitionAt: now,
		FailureCount:     1,
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	active, ok, err := store.ActiveSession(ctx)
	if err != nil || !ok {
		t.Fatalf("ActiveSession: ok=%v err=%v", ok, err)
	}
	if active.State != SessionVerifying || active.FailureCount != 1 {
		t.Errorf("resumed session = %+v", active)
	}

	session.State = SessionCommitted
	session.RolledBack = true
	session.Error = "health probes failed"
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	if _, ok, _ := store.ActiveSession(ctx); ok {
		t.Error("committed session still reported active")
	}

	rollback, ok, err := store.LastRollback(ctx)
	if err != nil || !ok {
		t.Fatalf("LastRollback: ok=%v err=%v", ok, err)
	}
	if rollback.PreviousVersion != "v1.0.0" || rollback.Error == "" {
		t.Errorf("rollback record = %+v", rollback)
	}
}

func TestClearFailure(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if ok, err := store.ClearFailure(ctx); err != nil || ok {
		t.Fatalf("ClearFailure with no failure: ok=%v err=%v", ok, err)
	}

	session := Session{
		ID:               "session-1",
		TargetVersion:    "v1.1.0",
		PreviousVersion:  "v1.0.0",
		State:            SessionFailed,
		StartedAt:        now,
		LastTransitionAt: now,
		Error:            "rollback target missing",
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	failure, ok, err := store.LatestFailure(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestFailure: ok=%v err=%v", ok, err)
	}
	if failure.ID != "session-1" {
		t.Errorf("failure id = %s", failure.ID)
	}

	if ok, err := store.ClearFailure(ctx); err != nil || !ok {
		t.Fatalf("ClearFailure: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.LatestFailure(ctx); ok {
		t.Error("failure still present after clear")
	}
}

func TestEpochPersistence(t *testing.T) {
	store := testStore(t)

	if _, ok, err := store.LastEpoch("dashboard"); err != nil || ok {
		t.Fatalf("LastEpoch on empty store: ok=%v err=%v", ok, err)
	}

	if err := store.SetEpoch("dashboard", 7); err != nil {
		t.Fatalf("SetEpoch: %v", err)
	}
	epoch, ok, err := store.LastEpoch("dashboard")
	if err != nil || !ok || epoch != 7 {
		t.Fatalf("LastEpoch = %d, ok=%v, err=%v", epoch, ok, err)
	}

	if err := store.SetEpoch("dashboard", 9); err != nil {
		t.Fatalf("SetEpoch update: %v", err)
	}
	if epoch, _, _ := store.LastEpoch("dashboard"); epoch != 9 {
		t.Errorf("epoch = %d, want 9", epoch)
	}
}

func TestAuditAppend(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	entries := []AuditEntry{
		{At: time.Now(), CorrelationID: "r1", Subject: "dashboard", Tier: "operator", Operation: "pin.write", Outcome: "ok", Duration: 3 * time.Millisecond},
		{At: time.Now(), CorrelationID: "r2", Subject: "dashboard", Tier: "observer", Operation: "pin.write", Outcome: "error", ErrorKind: "permission_denied", Duration: time.Millisecond},
	}
	for _, entry := range entries {
		if err := store.AppendAudit(ctx, entry); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	count, err := store.AuditCount(ctx)
	if err != nil {
		t.Fatalf("AuditCount: %v", err)
	}
	if count != 2 {
		t.Errorf("audit count = %d, want 2", count)
	}
}
