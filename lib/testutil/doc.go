// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by Outpost tests:
// channel operations with timeout safety valves so a broken test hangs
// for seconds, not forever.
package testutil
