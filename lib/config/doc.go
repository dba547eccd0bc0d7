// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the worker and agent configuration.
//
// Configuration comes from a single YAML file named by the
// OUTPOST_CONFIG environment variable or a --config flag. There is no
// discovery and no fallback chain: a missing or malformed file is a
// startup error, so a running process always reflects exactly one
// auditable file.
package config
