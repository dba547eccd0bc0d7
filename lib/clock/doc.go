// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject Fake() and drive time with Advance, which makes
// rate-limit windows, probe intervals, and update timeouts fully
// deterministic under test.
package clock
