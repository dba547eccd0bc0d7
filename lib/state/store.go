// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ReleaseStatus is the lifecycle state of an installed release.
type ReleaseStatus string

const (
	ReleaseStaged  ReleaseStatus = "staged"
	ReleaseActive  ReleaseStatus = "active"
	ReleaseRetired ReleaseStatus = "retired"
	ReleaseFailed  ReleaseStatus = "failed"
)

// Release is the persisted record of one installed release.
type Release struct {
	Version     string
	InstallPath string
	InstalledAt time.Time
	Status      ReleaseStatus
}

// SessionState is the update state machine's persisted state.
type SessionState string

const (
	SessionChecking    SessionState = "checking"
	SessionStaged      SessionState = "staged"
	SessionActivating  SessionState = "activating"
	SessionVerifying   SessionState = "verifying"
	SessionRollingBack SessionState = "rolling_back"
	SessionCommitted   SessionState = "committed"
	SessionAborted     SessionState = "aborted"
	SessionFailed      SessionState = "failed"
)

// Terminal reports whether a session in this state is finished.
// SessionAborted is a failure before activation (nothing switched);
// SessionFailed is a failed rollback and additionally blocks new
// sessions until an operator clears it.
func (s SessionState) Terminal() bool {
	return s == SessionCommitted || s == SessionAborted || s == SessionFailed
}

// Session is one update attempt. At most one non-terminal Session
// exists at a time, enforced by CreateSession.
type Session struct {
	ID               string
	TargetVersion    string
	PreviousVersion  string
	State            SessionState
	StartedAt        time.Time
	LastTransitionAt time.Time
	FailureCount     int

	// RolledBack marks a committed session that ended by restoring
	// PreviousVersion instead of keeping TargetVersion.
	RolledBack bool

	// Error is the message of the failure that ended or degraded the
	// session. Empty for clean commits.
	Error string
}

// AuditEntry is one appended audit record. Write-only from the
// worker's perspective; rows are never updated or deleted by this
// core.
type AuditEntry struct {
	At            time.Time
	CorrelationID string
	Subject       string
	Tier          string
	Operation     string
	Outcome       string
	ErrorKind     string
	Duration      time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS releases (
    version       TEXT PRIMARY KEY,
    install_path  TEXT NOT NULL,
    installed_at  INTEGER NOT NULL,
    status        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS update_sessions (
    id                 TEXT PRIMARY KEY,
    target_version     TEXT NOT NULL,
    previous_version   TEXT NOT NULL DEFAULT '',
    state              TEXT NOT NULL,
    started_at         INTEGER NOT NULL,
    last_transition_at INTEGER NOT NULL,
    failure_count      INTEGER NOT NULL DEFAULT 0,
    rolled_back        INTEGER NOT NULL DEFAULT 0,
    error              TEXT NOT NULL DEFAULT ''
);

-- At most one non-terminal session. The partial index turns the
-- exclusivity invariant into a constraint the database enforces even
-- if application-level checks regress.
CREATE UNIQUE INDEX IF NOT EXISTS one_active_session
    ON update_sessions ((1))
    WHERE state NOT IN ('committed', 'aborted', 'failed');

CREATE TABLE IF NOT EXISTS epochs (
    subject TEXT PRIMARY KEY,
    epoch   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    at             INTEGER NOT NULL,
    correlation_id TEXT NOT NULL,
    subject        TEXT NOT NULL,
    tier           TEXT NOT NULL,
    operation      TEXT NOT NULL,
    outcome        TEXT NOT NULL,
    error_kind     TEXT NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL
);
`

// Store wraps the pool with the worker's state operations.
type Store struct {
	pool *Pool
}

// Open opens (and if needed creates) the worker state database.
func Open(ctx context.Context, pool *Pool) (*Store, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("state: applying schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// UpsertRelease inserts or replaces a release record.
func (s *Store) UpsertRelease(ctx context.Context, release Release) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO releases (version, install_path, installed_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (version) DO UPDATE SET
		    install_path = excluded.install_path,
		    installed_at = excluded.installed_at,
		    status       = excluded.status`,
		&sqlitex.ExecOptions{Args: []any{
			release.Version,
			release.InstallPath,
			release.InstalledAt.UnixMilli(),
			string(release.Status),
		}})
}

// SetReleaseStatus updates the status of an existing release record.
func (s *Store) SetReleaseStatus(ctx context.Context, version string, status ReleaseStatus) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn,
		`UPDATE releases SET status = ? WHERE version = ?`,
		&sqlitex.ExecOptions{Args: []any{string(status), version}}); err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("state: no release record for version %s", version)
	}
	return nil
}

// GetRelease returns the record for version, or ok=false.
func (s *Store) GetRelease(ctx context.Context, version string) (Release, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Release{}, false, err
	}
	defer s.pool.Put(conn)

	var release Release
	found := false
	err = sqlitex.Execute(conn,
		`SELECT version, install_path, installed_at, status FROM releases WHERE version = ?`,
		&sqlitex.ExecOptions{
			Args: []any{version},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				release = releaseFromRow(stmt)
				found = true
				return nil
			},
		})
	return release, found, err
}

// ListReleases returns all release records, newest install first.
func (s *Store) ListReleases(ctx context.Context) ([]Release, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var releases []Release
	err = sqlitex.Execute(conn,
		`SELECT version, install_path, installed_at, status FROM releases ORDER BY installed_at DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				releases = append(releases, releaseFromRow(stmt))
				return nil
			},
		})
	return releases, err
}

func releaseFromRow(stmt *sqlite.Stmt) Release {
	return Release{
		Version:     stmt.ColumnText(0),
		InstallPath: stmt.ColumnText(1),
		InstalledAt: time.UnixMilli(stmt.ColumnInt64(2)).UTC(),
		Status:      ReleaseStatus(stmt.ColumnText(3)),
	}
}

// CreateSession inserts a new non-terminal session. Returns an error
// if another non-terminal session exists (the unique partial index
// rejects the insert).
func (s *Store) CreateSession(ctx context.Context, session Session) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO update_sessions
		    (id, target_version, previous_version, state, started_at, last_transition_at, failure_count, rolled_back, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			session.ID,
			session.TargetVersion,
			session.PreviousVersion,
			string(session.State),
			session.StartedAt.UnixMilli(),
			session.LastTransitionAt.UnixMilli(),
			session.FailureCount,
			boolToInt(session.RolledBack),
			session.Error,
		}})
}

// SaveSession persists the session's mutable fields. The transition
// is durable (synchronous=FULL) when this returns.
func (s *Store) SaveSession(ctx context.Context, session Session) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `
		UPDATE update_sessions SET
		    state = ?, last_transition_at = ?, failure_count = ?, rolled_back = ?, error = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(session.State),
			session.LastTransitionAt.UnixMilli(),
			session.FailureCount,
			boolToInt(session.RolledBack),
			session.Error,
			session.ID,
		}}); err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("state: no session with id %s", session.ID)
	}
	return nil
}

// ActiveSession returns the single non-terminal session, or ok=false.
func (s *Store) ActiveSession(ctx context.Context) (Session, bool, error) {
	return s.querySession(ctx,
		`SELECT id, target_version, previous_version, state, started_at, last_transition_at, failure_count, rolled_back, error
		 FROM update_sessions WHERE state NOT IN ('committed', 'aborted', 'failed')`)
}

// LatestFailure returns the most recent failed session, or ok=false.
// A failed session blocks new updates until cleared.
func (s *Store) LatestFailure(ctx context.Context) (Session, bool, error) {
	return s.querySession(ctx,
		`SELECT id, target_version, previous_version, state, started_at, last_transition_at, failure_count, rolled_back, error
		 FROM update_sessions WHERE state = 'failed' ORDER BY last_transition_at DESC LIMIT 1`)
}

// LastRollback returns the most recent committed session that ended
// in a rollback, or ok=false.
func (s *Store) LastRollback(ctx context.Context) (Session, bool, error) {
	return s.querySession(ctx,
		`SELECT id, target_version, previous_version, state, started_at, last_transition_at, failure_count, rolled_back, error
		 FROM update_sessions WHERE state = 'committed' AND rolled_back = 1
		 ORDER BY last_transition_at DESC LIMIT 1`)
}

// ClearFailure marks the latest failed session as acknowledged by
// flipping it to committed with its error preserved. Returns ok=false
// if there is no failed session.
func (s *Store) ClearFailure(ctx context.Context) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `
		UPDATE update_sessions SET state = 'committed', rolled_back = 1
		WHERE id = (SELECT id FROM update_sessions WHERE state = 'failed'
		            ORDER BY last_transition_at DESC LIMIT 1)`, nil); err != nil {
		return false, err
	}
	return conn.Changes() > 0, nil
}

func (s *Store) querySession(ctx context.Context, query string) (Session, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Session{}, false, err
	}
	defer s.pool.Put(conn)

	var session Session
	found := false
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			session = Session{
				ID:               stmt.ColumnText(0),
				TargetVersion:    stmt.ColumnText(1),
				PreviousVersion:  stmt.ColumnText(2),
				State:            SessionState(stmt.ColumnText(3)),
				StartedAt:        time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
				LastTransitionAt: time.UnixMilli(stmt.ColumnInt64(5)).UTC(),
				FailureCount:     stmt.ColumnInt(6),
				RolledBack:       stmt.ColumnInt(7) != 0,
				Error:            stmt.ColumnText(8),
			}
			found = true
			return nil
		},
	})
	return session, found, err
}

// LastEpoch implements policy.EpochStore.
func (s *Store) LastEpoch(subject string) (uint64, bool, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return 0, false, err
	}
	defer s.pool.Put(conn)

	var epoch uint64
	found := false
	err = sqlitex.Execute(conn,
		`SELECT epoch FROM epochs WHERE subject = ?`,
		&sqlitex.ExecOptions{
			Args: []any{subject},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				epoch = uint64(stmt.ColumnInt64(0))
				found = true
				return nil
			},
		})
	return epoch, found, err
}

// SetEpoch implements policy.EpochStore.
func (s *Store) SetEpoch(subject string, epoch uint64) error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO epochs (subject, epoch) VALUES (?, ?)
		ON CONFLICT (subject) DO UPDATE SET epoch = excluded.epoch`,
		&sqlitex.ExecOptions{Args: []any{subject, int64(epoch)}})
}

// AppendAudit appends one audit row.
func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO audit_log (at, correlation_id, subject, tier, operation, outcome, error_kind, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			entry.At.UnixMilli(),
			entry.CorrelationID,
			entry.Subject,
			entry.Tier,
			entry.Operation,
			entry.Outcome,
			entry.ErrorKind,
			entry.Duration.Milliseconds(),
		}})
}

// AuditCount returns the number of audit rows. Used by tests and the
// doctor surface, not by the hot path.
func (s *Store) AuditCount(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM audit_log`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	return count, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
