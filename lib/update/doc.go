// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package update orchestrates self-update: fetch, stage, activate,
// verify, and commit or roll back, as an explicit persisted state
// machine.
//
// States:
//
//	idle → checking → staged → activating → verifying → committed
//	          ↘ aborted ↙                 ↘ rolling_back → committed (rolled_back)
//	                                                     ↘ failed (terminal)
//
// A session that fails before activation (fetch error, staging error,
// cancellation) ends in aborted: terminal, but not blocking — the
// device never left its running release, so the next update may start
// immediately.
//
// Each transition is written to the state database before the step it
// records is taken, so a worker crash mid-update resumes
// deterministically: on restart the engine re-enters the last
// recorded state and re-runs it. Every state's work is idempotent —
// resuming "verifying" re-probes health rather than re-downloading,
// resuming "activating" re-runs the same atomic pointer swap.
//
// At most one session is non-terminal at a time; a second update
// request is rejected with conflict, never queued. Rollback reuses
// the forward activation path wholesale, so it inherits the same
// atomic-switch and liveness guarantees. A failed rollback is
// terminal: the engine refuses new sessions until an operator clears
// the failure.
package update
