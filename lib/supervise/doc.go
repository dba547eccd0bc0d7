// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervise is the glue between the worker and the host's
// process manager: a restart signal for the front-end unit and a
// liveness probe against the restarted process. The supervisor's own
// restart-on-failure policy is its business; this package only asks
// for restarts and observes the result.
package supervise
