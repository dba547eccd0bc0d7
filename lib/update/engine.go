// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/outpost-labs/outpost/lib/clock"
	"github.com/outpost-labs/outpost/lib/release"
	"github.com/outpost-labs/outpost/lib/state"
	"github.com/outpost-labs/outpost/lib/supervise"
	"github.com/outpost-labs/outpost/lib/version"
	"github.com/outpost-labs/outpost/lib/watchdog"
	"github.com/outpost-labs/outpost/lib/wire"
)

// Config holds the update engine's tunables.
type Config struct {
	// WatchdogPath is where the transition-state file lives.
	WatchdogPath string

	// WatchdogMaxAge bounds how old a watchdog file may be and still
	// describe a live transition. Defaults to one hour.
	WatchdogMaxAge time.Duration

	// ProbeSuccesses is the number of consecutive successful health
	// probes required to commit. Defaults to 3.
	ProbeSuccesses int

	// ProbeFailureBudget is the total number of failed probes allowed
	// during verification before rolling back. Defaults to 5.
	ProbeFailureBudget int

	// ProbeInterval is the pause between probes. Zero means no pause
	// (tests).
	ProbeInterval time.Duration

	// FetchRetries is the number of retries (beyond the first
	// attempt) for a failed bundle fetch. Retries back off
	// exponentially.
	FetchRetries uint64
}

func (c *Config) applyDefaults() {
	if c.WatchdogMaxAge <= 0 {
		c.WatchdogMaxAge = time.Hour
	}
	if c.ProbeSuccesses <= 0 {
		c.ProbeSuccesses = 3
	}
	if c.ProbeFailureBudget <= 0 {
		c.ProbeFailureBudget = 5
	}
}

// Engine is the update state machine. One Engine exists per worker;
// all release mutation funnels through it, which is what enforces the
// single-session invariant operationally (the database's unique index
// enforces it durably).
type Engine struct {
	manager *release.Manager
	store   *state.Store
	fetcher Fetcher
	prober  supervise.Prober
	clock   clock.Clock
	logger  *slog.Logger
	config  Config

	mu      sync.Mutex
	runDone chan struct{}

	// cancelRequested is read between pre-activation states. Once
	// activating begins, cancellation is refused — only rollback can
	// undo an activated release.
	cancelRequested bool
}

// New builds an Engine. The prober is the same liveness check the
// release manager uses after restarts; the engine reuses it for the
// verification phase.
func New(manager *release.Manager, store *state.Store, fetcher Fetcher, prober supervise.Prober, clk clock.Clock, logger *slog.Logger, config Config) *Engine {
	config.applyDefaults()
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		manager: manager,
		store:   store,
		fetcher: fetcher,
		prober:  prober,
		clock:   clk,
		logger:  logger,
		config:  config,
	}
}

// Start begins an update session targeting versionID and runs the
// state machine in the background. Returns conflict if a session is
// already non-terminal or a previous rollback failure has not been
// cleared.
func (e *Engine) Start(ctx context.Context, versionID string) (state.Session, error) {
	if _, err := version.ParseRelease(versionID); err != nil {
		return state.Session{}, wire.Errorf(wire.KindInvalidArgument, "%v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, blocked, err := e.store.LatestFailure(ctx); err != nil {
		return state.Session{}, err
	} else if blocked {
		return state.Session{}, wire.Errorf(wire.KindRollbackFailed,
			"a previous rollback failed; clear the failure before updating")
	}

	current, err := e.manager.Current()
	if err != nil {
		return state.Session{}, err
	}
	if current == versionID {
		return state.Session{}, wire.Errorf(wire.KindConflict,
			"version %s is already active", versionID)
	}

	now := e.clock.Now().UTC()
	session := state.Session{
		ID:               uuid.NewString(),
		TargetVersion:    versionID,
		PreviousVersion:  current,
		State:            state.SessionChecking,
		StartedAt:        now,
		LastTransitionAt: now,
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		// The unique partial index rejects a second non-terminal
		// session; surface that as the documented conflict.
		return state.Session{}, wire.Errorf(wire.KindConflict,
			"an update session is already in progress")
	}

	e.cancelRequested = false
	e.spawnLocked(session)
	return session, nil
}

// Rollback manually restores the previous release. It is modeled as
// a session whose target is the rollback destination, entering the
// machine at rolling_back, so it shares the forward path's atomic
// switch, liveness wait, and bounded retries.
func (e *Engine) Rollback(ctx context.Context) (state.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, blocked, err := e.store.LatestFailure(ctx); err != nil {
		return state.Session{}, err
	} else if blocked {
		return state.Session{}, wire.Errorf(wire.KindRollbackFailed,
			"a previous rollback failed; clear the failure first")
	}

	current, err := e.manager.Current()
	if err != nil {
		return state.Session{}, err
	}
	if current == "" {
		return state.Session{}, wire.Errorf(wire.KindNotFound, "no active release to roll back from")
	}
	target, err := e.rollbackTarget(ctx, current)
	if err != nil {
		return state.Session{}, err
	}

	now := e.clock.Now().UTC()
	session := state.Session{
		ID:               uuid.NewString(),
		TargetVersion:    current,
		PreviousVersion:  target,
		State:            state.SessionRollingBack,
		StartedAt:        now,
		LastTransitionAt: now,
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return state.Session{}, wire.Errorf(wire.KindConflict,
			"an update session is already in progress")
	}

	e.cancelRequested = false
	e.spawnLocked(session)
	return session, nil
}

// rollbackTarget picks the most recently retired release — the one
// activation demoted when the current release took over.
func (e *Engine) rollbackTarget(ctx context.Context, current string) (string, error) {
	releases, err := e.store.ListReleases(ctx)
	if err != nil {
		return "", err
	}
	for _, record := range releases {
		if record.Version != current && record.Status == state.ReleaseRetired {
			return record.Version, nil
		}
	}
	return "", wire.Errorf(wire.KindNotFound, "no prior release available to roll back to")
}

// Cancel aborts a session that has not yet begun activating. Once
// activation has started the request is refused with conflict.
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok, err := e.store.ActiveSession(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return wire.Errorf(wire.KindNotFound, "no update session in progress")
	}
	switch session.State {
	case state.SessionChecking, state.SessionStaged:
		e.cancelRequested = true
		return nil
	default:
		return wire.Errorf(wire.KindConflict,
			"session is %s; activation cannot be cancelled, only rolled back", session.State)
	}
}

// ClearFailure acknowledges a terminal rollback failure, unblocking
// future sessions.
func (e *Engine) ClearFailure(ctx context.Context) error {
	cleared, err := e.store.ClearFailure(ctx)
	if err != nil {
		return err
	}
	if !cleared {
		return wire.Errorf(wire.KindNotFound, "no rollback failure to clear")
	}
	return nil
}

// Resume re-enters an interrupted session after a worker restart.
// Call once at startup, before serving the gateway. The watchdog file
// distinguishes "crashed mid-transition" from "clean restart" in the
// logs; the database state decides what actually runs.
func (e *Engine) Resume(ctx context.Context) error {
	session, ok, err := e.store.ActiveSession(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return watchdog.Clear(e.config.WatchdogPath)
	}

	if transition, live, err := watchdog.Check(e.config.WatchdogPath, e.config.WatchdogMaxAge, e.clock.Now()); err != nil {
		e.logger.Warn("unreadable watchdog file", "error", err)
	} else if live {
		e.logger.Info("resuming interrupted release transition",
			"session_id", transition.SessionID,
			"previous_version", transition.PreviousVersion,
			"new_version", transition.NewVersion,
		)
	}

	e.logger.Info("resuming update session", "session_id", session.ID, "state", session.State)
	e.mu.Lock()
	e.spawnLocked(session)
	e.mu.Unlock()
	return nil
}

// AwaitIdle blocks until the background run loop (if any) finishes.
// Status queries do not need this; tests do.
func (e *Engine) AwaitIdle(ctx context.Context) error {
	e.mu.Lock()
	done := e.runDone
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawnLocked launches the machine for session. Caller holds e.mu.
func (e *Engine) spawnLocked(session state.Session) {
	done := make(chan struct{})
	e.runDone = done
	go func() {
		defer close(done)
		e.run(session)
	}()
}

// run drives session to a terminal state. Each case persists the next
// state before performing its work, so re-entry after a crash repeats
// the interrupted step instead of skipping it.
func (e *Engine) run(session state.Session) {
	ctx := context.Background()

	for !session.State.Terminal() {
		var err error
		switch session.State {
		case state.SessionChecking:
			session, err = e.stepChecking(ctx, session)
		case state.SessionStaged:
			session, err = e.stepStaged(ctx, session)
		case state.SessionActivating:
			session, err = e.stepActivating(ctx, session)
		case state.SessionVerifying:
			session, err = e.stepVerifying(ctx, session)
		case state.SessionRollingBack:
			session, err = e.stepRollingBack(ctx, session)
		default:
			err = fmt.Errorf("unknown session state %q", session.State)
		}
		if err != nil {
			// Persistence failures leave the session as-is; the next
			// Resume re-enters the recorded state.
			e.logger.Error("update session step failed to persist",
				"session_id", session.ID, "state", session.State, "error", err)
			return
		}
	}

	if session.State == state.SessionCommitted || session.State == state.SessionAborted {
		if err := watchdog.Clear(e.config.WatchdogPath); err != nil {
			e.logger.Warn("failed to clear watchdog file", "error", err)
		}
	}

	e.logger.Info("update session finished",
		"session_id", session.ID,
		"state", session.State,
		"target_version", session.TargetVersion,
		"rolled_back", session.RolledBack,
		"error", session.Error,
	)
}

// transition persists the session's move to next and returns the
// updated session. The write is durable before the new state's work
// begins.
func (e *Engine) transition(ctx context.Context, session state.Session, next state.SessionState) (state.Session, error) {
	session.State = next
	session.LastTransitionAt = e.clock.Now().UTC()
	if err := e.store.SaveSession(ctx, session); err != nil {
		return session, err
	}
	e.logger.Info("update session transition", "session_id", session.ID, "state", next)
	return session, nil
}

// stepChecking fetches and stages the target bundle. Fetch errors are
// retried with exponential backoff a bounded number of times, then
// abort the session with fetch_failed.
func (e *Engine) stepChecking(ctx context.Context, session state.Session) (state.Session, error) {
	if e.cancelled() {
		session.Error = "cancelled before staging"
		return e.transition(ctx, session, state.SessionAborted)
	}

	var bundlePath, digest string
	fetch := func() error {
		var err error
		bundlePath, digest, err = e.fetcher.Fetch(ctx, session.TargetVersion)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.config.FetchRetries)
	if err := backoff.Retry(fetch, backoff.WithContext(policy, ctx)); err != nil {
		session.Error = wire.Errorf(wire.KindFetchFailed, "fetching %s: %v", session.TargetVersion, err).Error()
		return e.transition(ctx, session, state.SessionAborted)
	}

	if _, err := e.manager.Stage(ctx, session.TargetVersion, bundlePath, digest); err != nil {
		session.Error = wire.AsError(err).Error()
		return e.transition(ctx, session, state.SessionAborted)
	}
	return e.transition(ctx, session, state.SessionStaged)
}

// stepStaged hands off to activation. This is the last cancellation
// point.
func (e *Engine) stepStaged(ctx context.Context, session state.Session) (state.Session, error) {
	if e.cancelled() {
		session.Error = "cancelled before activation"
		return e.transition(ctx, session, state.SessionAborted)
	}
	return e.transition(ctx, session, state.SessionActivating)
}

// stepActivating writes the watchdog, switches to the target release,
// restarts the front end, and waits for liveness. On failure with a
// prior release available it enters rolling_back; in the bootstrap
// case (nothing to roll back to) it fails terminally.
func (e *Engine) stepActivating(ctx context.Context, session state.Session) (state.Session, error) {
	if err := e.writeWatchdog(session, session.PreviousVersion, session.TargetVersion); err != nil {
		session.Error = err.Error()
		return e.transition(ctx, session, state.SessionAborted)
	}

	if err := e.manager.Activate(ctx, session.TargetVersion); err != nil {
		session.FailureCount++
		session.Error = wire.AsError(err).Error()
		e.logger.Warn("activation failed",
			"session_id", session.ID, "target_version", session.TargetVersion, "error", err)
		if session.PreviousVersion == "" {
			return e.transition(ctx, session, state.SessionFailed)
		}
		return e.transition(ctx, session, state.SessionRollingBack)
	}

	return e.transition(ctx, session, state.SessionVerifying)
}

// stepVerifying runs health probes until enough consecutive successes
// commit the release or the failure budget forces a rollback.
func (e *Engine) stepVerifying(ctx context.Context, session state.Session) (state.Session, error) {
	consecutive := 0
	failures := session.FailureCount

	for consecutive < e.config.ProbeSuccesses {
		err := e.prober.Probe(ctx)
		if err == nil {
			consecutive++
			if consecutive >= e.config.ProbeSuccesses {
				break
			}
		} else {
			consecutive = 0
			failures++
			e.logger.Warn("health probe failed",
				"session_id", session.ID, "failures", failures, "error", err)
			if failures > e.config.ProbeFailureBudget {
				session.FailureCount = failures
				session.Error = fmt.Sprintf("verification failed after %d probe failures: %v", failures, err)
				if session.PreviousVersion == "" {
					return e.transition(ctx, session, state.SessionFailed)
				}
				return e.transition(ctx, session, state.SessionRollingBack)
			}
		}
		if e.config.ProbeInterval > 0 {
			e.clock.Sleep(e.config.ProbeInterval)
		}
	}

	session.FailureCount = failures
	return e.commit(ctx, session)
}

// commit finalizes a successful verification.
func (e *Engine) commit(ctx context.Context, session state.Session) (state.Session, error) {
	return e.transition(ctx, session, state.SessionCommitted)
}

// stepRollingBack restores the previous release through the same
// activation path. A rollback failure is terminal.
func (e *Engine) stepRollingBack(ctx context.Context, session state.Session) (state.Session, error) {
	if err := e.writeWatchdog(session, session.TargetVersion, session.PreviousVersion); err != nil {
		// Without a watchdog the rollback is still safe, just less
		// diagnosable after a second crash. Proceed.
		e.logger.Warn("failed to write watchdog before rollback", "error", err)
	}

	if err := e.manager.Activate(ctx, session.PreviousVersion); err != nil {
		session.Error = wire.Errorf(wire.KindRollbackFailed,
			"restoring %s: %v", session.PreviousVersion, wire.AsError(err).Message).Error()
		e.logger.Error("rollback failed; manual intervention required",
			"session_id", session.ID,
			"rollback_target", session.PreviousVersion,
			"error", err,
		)
		return e.transition(ctx, session, state.SessionFailed)
	}

	// An automatic rollback means the target misbehaved; record that.
	// A manual rollback (no recorded failure) leaves the release
	// merely retired, which activation already did.
	if session.Error != "" {
		if err := e.store.SetReleaseStatus(ctx, session.TargetVersion, state.ReleaseFailed); err != nil {
			e.logger.Warn("failed to mark release failed", "version", session.TargetVersion, "error", err)
		}
	}

	session.RolledBack = true
	return e.transition(ctx, session, state.SessionCommitted)
}

func (e *Engine) writeWatchdog(session state.Session, from, to string) error {
	return watchdog.Write(e.config.WatchdogPath, watchdog.State{
		SessionID:       session.ID,
		PreviousVersion: from,
		NewVersion:      to,
		Timestamp:       e.clock.Now().UTC(),
	})
}

func (e *Engine) cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested
}
