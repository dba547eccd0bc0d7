// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Pool is a fixed-size pool of SQLite connections with Outpost's
// standard pragmas. It wraps sqlitex.Pool and exposes the same
// Take/Put API.
//
// Pool is safe for concurrent use. Individual connections are not —
// each goroutine must Take its own connection and Put it back when
// done.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenPool opens the database at path, creating it if necessary, and
// applies standard pragmas to every connection. Use ":memory:" with
// poolSize 1 in tests.
func OpenPool(path string, poolSize int, logger *slog.Logger) (*Pool, error) {
	if path == "" {
		return nil, fmt.Errorf("state: database path is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("state: opening %s: %w", path, err)
	}

	logger.Info("state database opened", "path", path, "pool_size", poolSize)

	return &Pool{inner: inner, logger: logger, path: path}, nil
}

// Take borrows a connection. Blocks until one is available or ctx is
// cancelled. The caller must Put it back, typically via defer.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections. Blocks until borrowed connections are
// returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("state: closing %s: %w", p.path, err)
	}
	p.logger.Info("state database closed", "path", p.path)
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	// synchronous=FULL, not NORMAL: an update-session transition must
	// be on disk before the step it records is taken. The write rate
	// here is tiny, so the extra fsyncs cost nothing that matters.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("state: %s: %w", pragma, err)
		}
	}
	return nil
}
