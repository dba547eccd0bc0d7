// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/outpost-labs/outpost/lib/wire"
)

// PowerBackend performs machine-level power transitions.
type PowerBackend interface {
	Reboot(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// LinuxPower uses the reboot(2) syscall directly. Filesystems are
// synced first; the worker's own state database is already durable at
// every point by construction.
type LinuxPower struct{}

// Reboot implements PowerBackend.
func (LinuxPower) Reboot(context.Context) error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return wire.Errorf(wire.KindUnavailable, "reboot: %v", err)
	}
	return nil
}

// Shutdown implements PowerBackend.
func (LinuxPower) Shutdown(context.Context) error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		return wire.Errorf(wire.KindUnavailable, "power off: %v", err)
	}
	return nil
}
