// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/outpost-labs/outpost/lib/clock"
	"github.com/outpost-labs/outpost/lib/state"
	"github.com/outpost-labs/outpost/lib/supervise"
	"github.com/outpost-labs/outpost/lib/version"
	"github.com/outpost-labs/outpost/lib/wire"
)

// currentLink is the name of the active-release pointer under the
// release root.
const currentLink = "current"

// releasesDir is the directory under the release root holding one
// subdirectory per installed version.
const releasesDir = "releases"

// ManagerConfig holds the parameters for a release Manager.
type ManagerConfig struct {
	// Root is the release store root directory. Created if missing.
	Root string

	// Store persists release records.
	Store *state.Store

	// Clock drives the liveness wait.
	Clock clock.Clock

	// Restarter signals the process manager to restart the front end
	// after activation. Nil disables the restart (pointer swap only),
	// which tests use.
	Restarter supervise.Restarter

	// Prober confirms the restarted front end is live. Nil disables
	// the liveness wait.
	Prober supervise.Prober

	// LivenessTimeout bounds the post-restart liveness wait.
	LivenessTimeout time.Duration

	// ProbeInterval is the pause between liveness attempts.
	ProbeInterval time.Duration

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Manager owns the release directory layout and the "current"
// pointer. It is the only code allowed to mutate either. All
// state-changing methods are called from the update engine's single
// mutation path, so the Manager itself carries no lock.
type Manager struct {
	root            string
	store           *state.Store
	clock           clock.Clock
	restarter       supervise.Restarter
	prober          supervise.Prober
	livenessTimeout time.Duration
	probeInterval   time.Duration
	logger          *slog.Logger
}

// NewManager creates the release root layout if needed and returns a
// Manager over it.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("release: Root is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("release: Store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 30 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Second
	}

	if err := os.MkdirAll(filepath.Join(cfg.Root, releasesDir), 0o755); err != nil {
		return nil, fmt.Errorf("release: creating release root: %w", err)
	}

	return &Manager{
		root:            cfg.Root,
		store:           cfg.Store,
		clock:           cfg.Clock,
		restarter:       cfg.Restarter,
		prober:          cfg.Prober,
		livenessTimeout: cfg.LivenessTimeout,
		probeInterval:   cfg.ProbeInterval,
		logger:          cfg.Logger,
	}, nil
}

// Path returns the install directory of a version.
func (m *Manager) Path(versionID string) string {
	return filepath.Join(m.root, releasesDir, versionID)
}

// Current returns the active version, or "" in the bootstrap state
// where no release has ever been activated.
func (m *Manager) Current() (string, error) {
	target, err := os.Readlink(filepath.Join(m.root, currentLink))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("release: reading current pointer: %w", err)
	}
	return filepath.Base(target), nil
}

// Stage unpacks and verifies a bundle into the release store. The
// release is written under a hidden staging name and renamed into
// place only when fully populated. Staging an already-active version
// is a conflict; re-staging an inactive version replaces it.
func (m *Manager) Stage(ctx context.Context, versionID, bundlePath, expectedDigest string) (state.Release, error) {
	if _, err := version.ParseRelease(versionID); err != nil {
		return state.Release{}, wire.Errorf(wire.KindInvalidArgument, "%v", err)
	}

	current, err := m.Current()
	if err != nil {
		return state.Release{}, err
	}
	if versionID == current {
		return state.Release{}, wire.Errorf(wire.KindConflict,
			"version %s is currently active", versionID)
	}

	finalPath := m.Path(versionID)
	stagingPath := filepath.Join(m.root, releasesDir, ".staging-"+versionID)

	// A leftover staging directory from a crashed earlier attempt is
	// garbage; its rename never happened.
	if err := os.RemoveAll(stagingPath); err != nil {
		return state.Release{}, fmt.Errorf("release: clearing stale staging dir: %w", err)
	}
	if err := os.MkdirAll(stagingPath, 0o755); err != nil {
		return state.Release{}, fmt.Errorf("release: creating staging dir: %w", err)
	}

	if err := Unpack(bundlePath, stagingPath, expectedDigest); err != nil {
		os.RemoveAll(stagingPath)
		return state.Release{}, err
	}

	if err := os.RemoveAll(finalPath); err != nil {
		os.RemoveAll(stagingPath)
		return state.Release{}, fmt.Errorf("release: removing previous install of %s: %w", versionID, err)
	}
	if err := os.Rename(stagingPath, finalPath); err != nil {
		os.RemoveAll(stagingPath)
		return state.Release{}, fmt.Errorf("release: renaming staged release into place: %w", err)
	}
	if err := syncDir(filepath.Join(m.root, releasesDir)); err != nil {
		return state.Release{}, err
	}

	record := state.Release{
		Version:     versionID,
		InstallPath: finalPath,
		InstalledAt: m.clock.Now().UTC(),
		Status:      state.ReleaseStaged,
	}
	if err := m.store.UpsertRelease(ctx, record); err != nil {
		return state.Release{}, fmt.Errorf("release: recording staged release: %w", err)
	}

	m.logger.Info("release staged", "version", versionID, "path", finalPath)
	return record, nil
}

// Activate switches the current pointer to versionID, then signals
// the supervisor to restart the front end and waits for liveness.
//
// The pointer update is a single rename. If it fails, the previous
// release remains active and no partial state is observable. If the
// restart or the liveness wait fails, the error is activation_failed
// and the caller (the update engine) decides between rollback and
// surfacing the failure — the install directories themselves are
// never touched.
func (m *Manager) Activate(ctx context.Context, versionID string) error {
	installPath := m.Path(versionID)
	if _, err := os.Stat(installPath); err != nil {
		return wire.Errorf(wire.KindNotFound, "release %s is not installed", versionID)
	}

	previous, err := m.Current()
	if err != nil {
		return err
	}

	if err := m.switchPointer(versionID); err != nil {
		return wire.Errorf(wire.KindActivationFailed, "%v", err)
	}

	if err := m.store.UpsertRelease(ctx, state.Release{
		Version:     versionID,
		InstallPath: installPath,
		InstalledAt: m.clock.Now().UTC(),
		Status:      state.ReleaseActive,
	}); err != nil {
		return fmt.Errorf("release: recording activation: %w", err)
	}
	if previous != "" && previous != versionID {
		if err := m.store.SetReleaseStatus(ctx, previous, state.ReleaseRetired); err != nil {
			m.logger.Warn("failed to retire previous release record",
				"version", previous, "error", err)
		}
	}

	m.logger.Info("release activated", "version", versionID, "previous", previous)

	if m.restarter != nil {
		if err := m.restarter.Restart(ctx); err != nil {
			return wire.Errorf(wire.KindActivationFailed,
				"restarting front end: %v", err)
		}
	}
	if m.prober != nil {
		if err := m.waitLive(ctx); err != nil {
			return wire.Errorf(wire.KindActivationFailed,
				"liveness confirmation: %v", err)
		}
	}
	return nil
}

// switchPointer atomically repoints the current symlink. The symlink
// target is relative so the release root can be relocated wholesale.
func (m *Manager) switchPointer(versionID string) error {
	temporary := filepath.Join(m.root, ".current.tmp")
	if err := os.Remove(temporary); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing stale pointer temp: %w", err)
	}
	if err := os.Symlink(filepath.Join(releasesDir, versionID), temporary); err != nil {
		return fmt.Errorf("creating new pointer: %w", err)
	}
	if err := os.Rename(temporary, filepath.Join(m.root, currentLink)); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("swapping pointer: %w", err)
	}
	// Make the rename durable before anything acts on the new
	// release. A power cut after this returns must not resurrect the
	// old pointer.
	return syncDir(m.root)
}

// waitLive polls the prober until it succeeds or the bounded timeout
// elapses.
func (m *Manager) waitLive(ctx context.Context) error {
	deadline := m.clock.Now().Add(m.livenessTimeout)
	var lastErr error
	for {
		probeCtx, cancel := context.WithTimeout(ctx, m.probeInterval)
		err := m.prober.Probe(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if m.clock.Now().After(deadline) {
			return fmt.Errorf("no liveness within %v: %w", m.livenessTimeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.probeInterval):
		}
	}
}

// Retire marks an inactive release retired. The install directory is
// kept — a retired release is still a valid rollback target until its
// directory is pruned by operations outside this core.
func (m *Manager) Retire(ctx context.Context, versionID string) error {
	current, err := m.Current()
	if err != nil {
		return err
	}
	if versionID == current {
		return wire.Errorf(wire.KindConflict, "cannot retire the active release %s", versionID)
	}
	if err := m.store.SetReleaseStatus(ctx, versionID, state.ReleaseRetired); err != nil {
		return wire.Errorf(wire.KindNotFound, "%v", err)
	}
	return nil
}

// List returns all release records.
func (m *Manager) List(ctx context.Context) ([]state.Release, error) {
	return m.store.ListReleases(ctx)
}

// syncDir fsyncs a directory so a rename inside it is durable.
func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("release: opening %s for sync: %w", path, err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("release: syncing %s: %w", path, err)
	}
	return nil
}
