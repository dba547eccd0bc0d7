// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog provides an atomic transition-state file written
// before a release switch. A process reads it on startup to classify
// what happened across the restart.
//
// Flow during activation:
//
//  1. Before repointing and restarting: write a watchdog naming the
//     previous and new release versions and the update session.
//  2. Switch the pointer and restart the front end.
//  3. The worker resumes the update session after its own restart (if
//     any) by reading the watchdog via Check: a fresh file means the
//     interrupted session belongs to this transition, and the session
//     state in the database says how far it got.
//  4. Clear the watchdog when the session reaches a terminal state.
//
// The file is written atomically (temp file, fsync, rename, fsync of
// the parent directory) so a reader never sees a partial state.
// Check discards stale files so an ancient watchdog from an unrelated
// restart is not mistaken for a live transition.
package watchdog
