// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"time"

	"github.com/outpost-labs/outpost/lib/codec"
)

// Tier is the privilege level of a caller. Higher values carry more
// privilege. The policy file assigns each operation a minimum tier.
type Tier int

const (
	// TierObserver may run read-only operations: status queries,
	// pin and bus reads, camera capture.
	TierObserver Tier = 0

	// TierOperator may mutate hardware state: pin writes, bus writes,
	// service restarts.
	TierOperator Tier = 1

	// TierAdmin may run power-affecting and release operations:
	// reboot, shutdown, staging, activation, rollback.
	TierAdmin Tier = 2
)

// String returns the tier name used in policy files and logs.
func (t Tier) String() string {
	switch t {
	case TierObserver:
		return "observer"
	case TierOperator:
		return "operator"
	case TierAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseTier converts a policy-file tier name to a Tier.
func ParseTier(name string) (Tier, bool) {
	switch name {
	case "observer":
		return TierObserver, true
	case "operator":
		return TierOperator, true
	case "admin":
		return TierAdmin, true
	}
	return 0, false
}

// Caller identifies who issued a request. The subject is an opaque
// principal name assigned by the front end (for example an OAuth
// subject); the worker treats it as a rate-limit and epoch key, never
// as an authentication credential — authentication happens at the edge
// before a request reaches the agent.
type Caller struct {
	Subject string `cbor:"subject"`
	Tier    Tier   `cbor:"tier"`
}

// Request is one privileged operation request sent from the agent to
// the worker. Immutable once sent.
type Request struct {
	// CorrelationID pairs the eventual response with the waiting
	// caller. Unique per request on a given connection.
	CorrelationID string `cbor:"correlation_id"`

	// Operation is the flat namespaced operation name, for example
	// "pin.write" or "release.activate".
	Operation string `cbor:"operation"`

	// Parameters is the operation-specific key/value bag, validated
	// against the capability policy's declared bounds on both sides
	// of the channel.
	Parameters map[string]any `cbor:"parameters,omitempty"`

	// Caller identifies the requesting principal and its tier.
	Caller Caller `cbor:"caller"`

	// IssuedAt is when the front end accepted the external request.
	IssuedAt time.Time `cbor:"issued_at"`

	// DeadlineMillis bounds handler execution, measured from receipt
	// by the worker. Zero means the worker's default deadline.
	DeadlineMillis int64 `cbor:"deadline_ms,omitempty"`

	// Epoch is the caller-supplied monotonic token required for
	// power-affecting operations. The worker rejects an epoch that
	// does not strictly exceed the last accepted one for this
	// subject, which makes replayed destructive requests inert.
	Epoch uint64 `cbor:"epoch,omitempty"`
}

// Outcome is the top-level result classification of a Response.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Response is the single reply produced for a Request. The worker
// never sends more than one Response per CorrelationID.
type Response struct {
	CorrelationID string           `cbor:"correlation_id"`
	Outcome       Outcome          `cbor:"outcome"`
	Result        codec.RawMessage `cbor:"result,omitempty"`
	Error         *Error           `cbor:"error,omitempty"`
}

// OK builds a success response carrying result (which may be nil).
func OK(correlationID string, result any) (Response, error) {
	response := Response{
		CorrelationID: correlationID,
		Outcome:       OutcomeOK,
	}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			return Response{}, err
		}
		response.Result = data
	}
	return response, nil
}

// Fail builds an error response from err, preserving its Kind when it
// is a wire error and mapping anything else to KindInternal.
func Fail(correlationID string, err error) Response {
	return Response{
		CorrelationID: correlationID,
		Outcome:       OutcomeError,
		Error:         AsError(err),
	}
}
