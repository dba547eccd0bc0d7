// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"slices"

	"github.com/outpost-labs/outpost/lib/wire"
)

// DenyReason describes why validation rejected a request.
type DenyReason int

const (
	// ReasonNotWhitelisted means the operation has no policy entry.
	ReasonNotWhitelisted DenyReason = iota

	// ReasonInsufficientTier means the caller's tier is below the
	// policy minimum.
	ReasonInsufficientTier

	// ReasonOutOfBounds means a parameter is outside the declared
	// bounds.
	ReasonOutOfBounds

	// ReasonRateLimited means the sliding-window invocation cap was
	// exceeded.
	ReasonRateLimited
)

// String returns a human-readable reason.
func (r DenyReason) String() string {
	switch r {
	case ReasonNotWhitelisted:
		return "operation not whitelisted"
	case ReasonInsufficientTier:
		return "caller tier below policy minimum"
	case ReasonOutOfBounds:
		return "parameter out of bounds"
	case ReasonRateLimited:
		return "rate limit exceeded"
	default:
		return "unknown"
	}
}

// Denial is a validation rejection: the reason and, where applicable,
// the parameter that triggered it.
type Denial struct {
	Reason         DenyReason
	OffendingField string
	Message        string
}

// Err maps a Denial to its wire error kind.
func (d *Denial) Err() *wire.Error {
	var kind wire.Kind
	switch d.Reason {
	case ReasonOutOfBounds:
		kind = wire.KindInvalidArgument
	case ReasonRateLimited:
		kind = wire.KindResourceExhausted
	default:
		kind = wire.KindPermissionDenied
	}
	err := wire.Errorf(kind, "%s", d.Message)
	if d.OffendingField != "" {
		err = err.WithDetail("field", d.OffendingField)
	}
	return err
}

// Evaluate runs the pure, side-effect-free part of validation:
// whitelist, tier, and parameter bounds. It never consults rate or
// epoch state, so both processes can call it with identical results.
// A nil return means the request passed.
func Evaluate(request wire.Request, pol *Policy) *Denial {
	rule, ok := pol.Rule(request.Operation)
	if !ok {
		return &Denial{
			Reason:  ReasonNotWhitelisted,
			Message: fmt.Sprintf("operation %q has no policy entry", request.Operation),
		}
	}

	if request.Caller.Tier < rule.MinTier {
		return &Denial{
			Reason: ReasonInsufficientTier,
			Message: fmt.Sprintf("operation %q requires tier %s, caller has %s",
				request.Operation, rule.MinTier, request.Caller.Tier),
		}
	}

	return checkBounds(request, rule.Bounds)
}

// checkBounds validates the parameters the policy vocabulary covers.
// CBOR decodes integers into int64 inside any-typed maps, so numeric
// parameters are read through intParam.
func checkBounds(request wire.Request, bounds Bounds) *Denial {
	if len(bounds.Pins) > 0 {
		pin, ok := intParam(request.Parameters, "pin")
		if !ok {
			return outOfBounds("pin", "missing or non-integer pin parameter")
		}
		if !slices.Contains(bounds.Pins, pin) {
			return outOfBounds("pin", fmt.Sprintf("pin %d not in allowed set %v", pin, bounds.Pins))
		}
	}

	if len(bounds.Buses) > 0 {
		bus, ok := intParam(request.Parameters, "bus")
		if !ok {
			return outOfBounds("bus", "missing or non-integer bus parameter")
		}
		if !slices.Contains(bounds.Buses, bus) {
			return outOfBounds("bus", fmt.Sprintf("bus %d not in allowed set %v", bus, bounds.Buses))
		}
	}

	if bounds.AddressMin != 0 || bounds.AddressMax != 0 {
		address, ok := intParam(request.Parameters, "address")
		if !ok {
			return outOfBounds("address", "missing or non-integer address parameter")
		}
		if address < bounds.AddressMin || address > bounds.AddressMax {
			return outOfBounds("address", fmt.Sprintf("address %#x outside [%#x, %#x]",
				address, bounds.AddressMin, bounds.AddressMax))
		}
	}

	if bounds.MaxBytes > 0 {
		if count, ok := intParam(request.Parameters, "count"); ok && count > bounds.MaxBytes {
			return outOfBounds("count", fmt.Sprintf("count %d exceeds limit %d", count, bounds.MaxBytes))
		}
		if data, ok := request.Parameters["data"].([]byte); ok && len(data) > bounds.MaxBytes {
			return outOfBounds("data", fmt.Sprintf("payload %d bytes exceeds limit %d", len(data), bounds.MaxBytes))
		}
	}

	if len(bounds.Services) > 0 {
		service, ok := request.Parameters["service"].(string)
		if !ok {
			return outOfBounds("service", "missing service parameter")
		}
		if !slices.Contains(bounds.Services, service) {
			return outOfBounds("service", fmt.Sprintf("service %q not in allowed set %v", service, bounds.Services))
		}
	}

	return nil
}

func outOfBounds(field, message string) *Denial {
	return &Denial{Reason: ReasonOutOfBounds, OffendingField: field, Message: message}
}

// intParam extracts an integer parameter regardless of the concrete
// numeric type the decoder produced.
func intParam(parameters map[string]any, key string) (int, bool) {
	switch v := parameters[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		// JSON decoding on the agent side produces float64. Accept
		// only integral values.
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// Validator combines the pure evaluator with the stateful checks
// (rate limiting and, on the worker side, epoch replay detection).
type Validator struct {
	policy  *Policy
	limiter *RateLimiter
	epochs  *EpochGuard
}

// NewValidator builds a validator. epochs may be nil on the agent
// side — only the worker holds epoch state.
func NewValidator(pol *Policy, limiter *RateLimiter, epochs *EpochGuard) *Validator {
	return &Validator{policy: pol, limiter: limiter, epochs: epochs}
}

// Validate runs the full check sequence. On success it records the
// invocation against the caller's rate window and, for power
// operations on the worker side, advances the caller's epoch.
func (v *Validator) Validate(request wire.Request) *wire.Error {
	if denial := Evaluate(request, v.policy); denial != nil {
		return denial.Err()
	}

	rule, _ := v.policy.Rule(request.Operation)
	if !v.limiter.Allow(request.Operation, request.Caller.Subject, rule.Rate) {
		denial := &Denial{
			Reason:  ReasonRateLimited,
			Message: fmt.Sprintf("operation %q rate limit exceeded for %q", request.Operation, request.Caller.Subject),
		}
		return denial.Err()
	}

	if rule.Power && v.epochs != nil {
		if err := v.epochs.Check(request.Caller.Subject, request.Epoch); err != nil {
			return err
		}
	}

	return nil
}

// Power reports whether operation is flagged power-affecting in the
// policy. Unknown operations report false.
func (v *Validator) Power(operation string) bool {
	rule, ok := v.policy.Rule(operation)
	return ok && rule.Power
}
