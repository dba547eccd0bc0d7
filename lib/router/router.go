// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package router maps operation names to handlers and wraps every
// dispatch in the safety checks the gateway requires: policy
// validation, deadline enforcement, and audit recording.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/outpost-labs/outpost/lib/audit"
	"github.com/outpost-labs/outpost/lib/clock"
	"github.com/outpost-labs/outpost/lib/policy"
	"github.com/outpost-labs/outpost/lib/state"
	"github.com/outpost-labs/outpost/lib/wire"
)

// Handler executes one operation. The context carries the request
// deadline; long-running handlers must stop when it is cancelled.
// The returned value is CBOR-encoded into the response; nil means an
// empty success.
type Handler func(ctx context.Context, request wire.Request) (any, error)

// Config configures a Router.
type Config struct {
	// Validator runs the policy checks before any handler sees the
	// request. Required.
	Validator *policy.Validator

	// Audit receives one entry per dispatched request, written before
	// the response is returned. Required; use audit.Nop to discard.
	Audit audit.Sink

	// DefaultDeadline applies when a request carries no deadline.
	// Defaults to 30 seconds.
	DefaultDeadline time.Duration

	// Clock stamps audit entries and measures durations.
	Clock clock.Clock

	// Logger receives denial warnings and power-operation notices.
	Logger *slog.Logger
}

// Router dispatches validated requests to registered handlers. All
// registration happens at startup, before the first Dispatch, so the
// handler map needs no locking.
type Router struct {
	config   Config
	handlers map[string]Handler
}

// New builds an empty Router.
func New(config Config) *Router {
	if config.DefaultDeadline <= 0 {
		config.DefaultDeadline = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		config:   config,
		handlers: make(map[string]Handler),
	}
}

// Register binds operation to handler. A duplicate registration is a
// startup bug and panics.
func (r *Router) Register(operation string, handler Handler) {
	if _, exists := r.handlers[operation]; exists {
		panic(fmt.Sprintf("router: duplicate handler for operation %q", operation))
	}
	r.handlers[operation] = handler
}

// Dispatch runs one request end to end: validation, handler execution
// under the deadline, audit. Exactly one response comes back, and the
// audit entry is durable before it does.
func (r *Router) Dispatch(ctx context.Context, request wire.Request) wire.Response {
	start := r.config.Clock.Now()

	result, err := r.execute(ctx, request)

	var response wire.Response
	if err != nil {
		response = wire.Fail(request.CorrelationID, err)
	} else {
		response, err = wire.OK(request.CorrelationID, result)
		if err != nil {
			response = wire.Fail(request.CorrelationID,
				wire.Errorf(wire.KindInternal, "encoding result: %v", err))
		}
	}

	r.record(ctx, request, response, r.config.Clock.Now().Sub(start))
	return response
}

// execute resolves and runs the handler with all checks applied.
func (r *Router) execute(ctx context.Context, request wire.Request) (any, error) {
	handler, exists := r.handlers[request.Operation]
	if !exists {
		return nil, wire.Errorf(wire.KindNotFound, "unknown operation %q", request.Operation)
	}

	if wireErr := r.config.Validator.Validate(request); wireErr != nil {
		return nil, wireErr
	}

	deadline := r.config.DefaultDeadline
	if request.DeadlineMillis > 0 {
		deadline = time.Duration(request.DeadlineMillis) * time.Millisecond
	}
	handlerCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler(handlerCtx, request)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-handlerCtx.Done():
		// The handler sees the cancelled context and unwinds on its
		// own; the caller gets the deadline answer immediately.
		return nil, wire.Errorf(wire.KindDeadlineExceeded,
			"operation %q exceeded its %s deadline", request.Operation, deadline)
	}
}

// record writes the audit entry and emits the operational log line.
func (r *Router) record(ctx context.Context, request wire.Request, response wire.Response, duration time.Duration) {
	entry := state.AuditEntry{
		At:            r.config.Clock.Now().UTC(),
		CorrelationID: request.CorrelationID,
		Subject:       request.Caller.Subject,
		Tier:          request.Caller.Tier.String(),
		Operation:     request.Operation,
		Outcome:       string(response.Outcome),
		Duration:      duration,
	}
	if response.Error != nil {
		entry.ErrorKind = string(response.Error.Kind)
	}
	if err := r.config.Audit.Record(ctx, entry); err != nil {
		r.config.Logger.Error("failed to record audit entry",
			"operation", request.Operation,
			"correlation_id", request.CorrelationID,
			"error", err,
		)
	}

	switch {
	case response.Error != nil:
		r.config.Logger.Warn("operation denied or failed",
			"operation", request.Operation,
			"subject", request.Caller.Subject,
			"kind", entry.ErrorKind,
			"duration", duration,
		)
	case r.config.Validator.Power(request.Operation):
		r.config.Logger.Info("power operation executed",
			"operation", request.Operation,
			"subject", request.Caller.Subject,
			"epoch", request.Epoch,
			"duration", duration,
		)
	default:
		r.config.Logger.Debug("operation executed",
			"operation", request.Operation,
			"subject", request.Caller.Subject,
			"duration", duration,
		)
	}
}
