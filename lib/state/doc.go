// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package state is the worker's durable storage: release records,
// update sessions, epoch marks, and the audit log, all in one SQLite
// database.
//
// The worker is the only writer. The agent never opens this database —
// it reads projections over the gateway. Update-session transitions
// are committed with full synchronous durability because the update
// state machine resumes from the last recorded state after a crash;
// a transition that was acted on but not recorded would replay a
// non-idempotent step.
package state
