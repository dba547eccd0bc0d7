// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records every dispatched gateway request. The trail
// is append-only: the worker writes one entry per request, durably,
// before the response leaves the process.
package audit

import (
	"context"

	"github.com/outpost-labs/outpost/lib/state"
)

// Sink receives one entry per dispatched request.
type Sink interface {
	Record(ctx context.Context, entry state.AuditEntry) error
}

// StoreSink persists entries to the worker state database.
type StoreSink struct {
	store *state.Store
}

// NewStoreSink wraps store as a Sink.
func NewStoreSink(store *state.Store) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements Sink.
func (s *StoreSink) Record(ctx context.Context, entry state.AuditEntry) error {
	return s.store.AppendAudit(ctx, entry)
}

// Nop discards entries. The agent side uses it: the worker already
// audits every request, and duplicating the trail would double-count.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, state.AuditEntry) error { return nil }
