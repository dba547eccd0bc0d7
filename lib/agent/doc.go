// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the unprivileged front end. It accepts JSON
// requests over a local HTTP socket, runs the first validation layer
// against the shared capability policy, and forwards surviving
// requests to the worker's gateway. The worker re-validates
// everything; the agent's layer exists to reject garbage cheaply and
// so that a compromised agent grants nothing the policy would not.
package agent
