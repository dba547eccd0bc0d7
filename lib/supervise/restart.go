// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Restarter asks the process manager to restart the front-end
// process. Implementations must be safe to call repeatedly — the
// update engine retries activation paths.
type Restarter interface {
	Restart(ctx context.Context) error
}

// SystemdRestarter restarts a systemd unit via systemctl. The worker
// runs as root, so no polkit negotiation is involved.
type SystemdRestarter struct {
	// Unit is the systemd unit name, e.g. "outpost-agent.service".
	Unit string

	// SystemctlPath overrides the systemctl binary path. Empty means
	// "systemctl" resolved from PATH.
	SystemctlPath string
}

// Restart implements Restarter.
func (r *SystemdRestarter) Restart(ctx context.Context) error {
	systemctl := r.SystemctlPath
	if systemctl == "" {
		systemctl = "systemctl"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, systemctl, "restart", r.Unit)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl restart %s: %w (%s)", r.Unit, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// FuncRestarter adapts a function to Restarter. Tests use it to
// observe restart requests and to simulate supervisor failures.
type FuncRestarter func(ctx context.Context) error

// Restart implements Restarter.
func (f FuncRestarter) Restart(ctx context.Context) error { return f(ctx) }
