// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/outpost-labs/outpost/lib/wire"
)

// ServiceStatus is the result of a service.status operation.
type ServiceStatus struct {
	Service string `cbor:"service" json:"service"`
	Active  bool   `cbor:"active"  json:"active"`
	State   string `cbor:"state"   json:"state"`
}

// ServiceBackend controls supervised system services.
type ServiceBackend interface {
	RestartService(ctx context.Context, service string) error
	ServiceStatus(ctx context.Context, service string) (ServiceStatus, error)
}

// SystemdService drives systemctl. The policy's service allowlist has
// already run by the time these execute, so the unit name is trusted.
type SystemdService struct{}

// RestartService implements ServiceBackend.
func (SystemdService) RestartService(ctx context.Context, service string) error {
	cmd := exec.CommandContext(ctx, "systemctl", "restart", service)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return wire.Errorf(wire.KindUnavailable, "restarting %s: %v: %s",
			service, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ServiceStatus implements ServiceBackend. `systemctl is-active`
// exits non-zero for any inactive state, so a non-zero exit with
// output is a state report, not a failure.
func (SystemdService) ServiceStatus(ctx context.Context, service string) (ServiceStatus, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", service)
	output, err := cmd.Output()
	stateText := strings.TrimSpace(string(output))
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || stateText == "" {
			return ServiceStatus{}, wire.Errorf(wire.KindUnavailable, "querying %s: %v", service, err)
		}
	}
	return ServiceStatus{
		Service: service,
		Active:  stateText == "active",
		State:   stateText,
	}, nil
}
