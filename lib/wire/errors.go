// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
)

// Kind is a symbolic error classification carried on the wire. Kinds
// are protocol constants — renaming one breaks agent/worker version
// skew during updates.
type Kind string

const (
	// KindProtocol is a malformed or oversized frame, or an envelope
	// that fails to decode.
	KindProtocol Kind = "protocol_error"

	// KindNotFound is an unregistered operation or missing target
	// release.
	KindNotFound Kind = "not_found"

	// KindPermissionDenied is a safety-validation failure: operation
	// not whitelisted, or tier below the policy minimum.
	KindPermissionDenied Kind = "permission_denied"

	// KindInvalidArgument is an out-of-bounds or malformed parameter.
	KindInvalidArgument Kind = "invalid_argument"

	// KindResourceExhausted is a rate-limit rejection or the worker's
	// concurrency cap.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindDeadlineExceeded means the request deadline expired before
	// the handler finished.
	KindDeadlineExceeded Kind = "deadline_exceeded"

	// KindConflict is a concurrent update attempt or a replayed epoch
	// on a power-affecting operation.
	KindConflict Kind = "conflict"

	// KindFetchFailed is a download or integrity failure while
	// staging a release.
	KindFetchFailed Kind = "fetch_failed"

	// KindActivationFailed means the release switch or the liveness
	// wait after it failed; the previous release remains active.
	KindActivationFailed Kind = "activation_failed"

	// KindRollbackFailed is terminal: rollback itself failed and the
	// update engine refuses further sessions until an operator clears
	// the failure.
	KindRollbackFailed Kind = "rollback_failed"

	// KindUnavailable is a gateway connection loss, distinct from any
	// application-level error.
	KindUnavailable Kind = "unavailable"

	// KindInternal is an unclassified worker-side failure.
	KindInternal Kind = "internal"
)

// Error is the structured error payload of a Response. It implements
// the error interface so handlers can return it directly.
type Error struct {
	Kind    Kind           `cbor:"kind"`
	Message string         `cbor:"message"`
	Detail  map[string]any `cbor:"detail,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a wire error with the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns a copy of e carrying one structured detail field.
// Used for Denial offending fields and release version context.
func (e *Error) WithDetail(key string, value any) *Error {
	detail := make(map[string]any, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Detail: detail}
}

// AsError coerces err to a *Error, mapping non-wire errors to
// KindInternal. A nil err returns nil.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}

// KindOf returns the wire kind of err, or KindInternal for errors that
// did not originate as wire errors.
func KindOf(err error) Kind {
	if wireErr := AsError(err); wireErr != nil {
		return wireErr.Kind
	}
	return KindInternal
}
