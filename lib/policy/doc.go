// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the capability policy and the safety
// validator that enforces it.
//
// The validator runs on both sides of the gateway: the agent validates
// before sending, the worker re-validates before executing. Both
// processes link this same package, so the two checks cannot drift.
// The worker treats the agent's validation as advisory only — a
// compromised front end gains nothing by skipping its check.
//
// Validation order is fixed: operation whitelisted, caller tier meets
// the policy minimum, parameters within declared bounds, rate limit
// not exceeded. The first failure short-circuits with a Denial naming
// the offending field.
//
// Power-affecting operations additionally require a strictly
// increasing epoch token per caller subject, checked worker-side
// against persisted state (see EpochGuard).
package policy
