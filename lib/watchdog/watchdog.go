// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State records the context of a release transition. Written before
// the switch, read after restart to determine the outcome.
type State struct {
	// SessionID is the update session driving this transition.
	SessionID string `json:"session_id"`

	// PreviousVersion is the release that was active before the
	// switch — the rollback target if the transition fails.
	PreviousVersion string `json:"previous_version"`

	// NewVersion is the release being switched to.
	NewVersion string `json:"new_version"`

	// Timestamp is when the transition was initiated. Check uses it
	// to discard stale files left behind by unrelated restarts.
	Timestamp time.Time `json:"timestamp"`
}

// Write atomically writes the watchdog state file. The state is
// written to a temporary file in the same directory, fsynced, and
// renamed into place; the parent directory is then fsynced so the
// rename survives power loss. The file is created with mode 0600.
func Write(path string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling watchdog state: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary watchdog file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary watchdog file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary watchdog file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary watchdog file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming watchdog file into place: %w", err)
	}

	directory, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("opening watchdog directory for sync: %w", err)
	}
	defer directory.Close()
	if err := directory.Sync(); err != nil {
		return fmt.Errorf("syncing watchdog directory: %w", err)
	}
	return nil
}

// Check reads the watchdog state at path. Returns ok=false if the
// file does not exist or is older than maxAge — a stale file is
// treated as absent, not as an error, because it describes a
// transition that some earlier run abandoned without clearing.
func Check(path string, maxAge time.Duration, now time.Time) (State, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("reading watchdog file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("parsing watchdog file: %w", err)
	}

	if now.Sub(state.Timestamp) > maxAge {
		return State{}, false, nil
	}
	return state, true, nil
}

// Clear removes the watchdog file. Missing is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing watchdog file: %w", err)
	}
	return nil
}
