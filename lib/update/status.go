// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"context"
	"time"

	"github.com/outpost-labs/outpost/lib/state"
)

// SessionView is the externally visible shape of an update session.
type SessionView struct {
	ID               string    `json:"id" cbor:"id"`
	TargetVersion    string    `json:"target_version" cbor:"target_version"`
	PreviousVersion  string    `json:"previous_version,omitempty" cbor:"previous_version,omitempty"`
	State            string    `json:"state" cbor:"state"`
	StartedAt        time.Time `json:"started_at" cbor:"started_at"`
	LastTransitionAt time.Time `json:"last_transition_at" cbor:"last_transition_at"`
	RolledBack       bool      `json:"rolled_back,omitempty" cbor:"rolled_back,omitempty"`
	Error            string    `json:"error,omitempty" cbor:"error,omitempty"`
}

// Status is the projection served by update.status and agent.status.
type Status struct {
	CurrentVersion string       `json:"current_version" cbor:"current_version"`
	Session        *SessionView `json:"update_session" cbor:"update_session"`
	LastRollback   *SessionView `json:"last_rollback" cbor:"last_rollback"`
	BlockedFailure *SessionView `json:"blocked_failure,omitempty" cbor:"blocked_failure,omitempty"`
}

func viewOf(session state.Session) *SessionView {
	return &SessionView{
		ID:               session.ID,
		TargetVersion:    session.TargetVersion,
		PreviousVersion:  session.PreviousVersion,
		State:            string(session.State),
		StartedAt:        session.StartedAt,
		LastTransitionAt: session.LastTransitionAt,
		RolledBack:       session.RolledBack,
		Error:            session.Error,
	}
}

// Status reports the current release, the in-flight session if any,
// the most recent rollback, and an uncleared rollback failure if one
// is blocking new sessions.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	current, err := e.manager.Current()
	if err != nil {
		return Status{}, err
	}
	status := Status{CurrentVersion: current}

	if session, ok, err := e.store.ActiveSession(ctx); err != nil {
		return Status{}, err
	} else if ok {
		status.Session = viewOf(session)
	}

	if session, ok, err := e.store.LastRollback(ctx); err != nil {
		return Status{}, err
	} else if ok {
		status.LastRollback = viewOf(session)
	}

	if session, ok, err := e.store.LatestFailure(ctx); err != nil {
		return Status{}, err
	} else if ok {
		status.BlockedFailure = viewOf(session)
	}

	return status, nil
}
