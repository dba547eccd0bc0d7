// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build metadata for Outpost binaries and
// parsing/ordering of release version identifiers.
package version
