// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package ops implements the gateway operation handlers: GPIO and I2C
// access, camera capture, service control, power control, release
// management, and update control.
//
// Hardware access goes through small backend interfaces so the
// handlers are testable against fakes. The real backends (sysfs GPIO,
// /dev/i2c, a capture subprocess, systemctl) are deliberately thin;
// everything above them — bounds, tiers, rate limits, epochs — is
// enforced by the policy layer before a handler runs, and the handler
// re-checks nothing.
package ops
