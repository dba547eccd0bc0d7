// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outpost-labs/outpost/lib/codec"
	"github.com/outpost-labs/outpost/lib/wire"
)

// ErrConnectionLost reports that the gateway connection dropped before
// a response arrived. It is deliberately distinct from application
// errors: the operation's fate is unknown, and the caller must not
// assume it failed.
var ErrConnectionLost = errors.New("gateway: connection lost")

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// Client is the agent's side of the gateway. One Client holds one
// persistent connection; Call is safe for concurrent use and requests
// interleave freely on the wire.
type Client struct {
	conn         net.Conn
	maxFrameSize int
	logger       *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wire.Response
	closed  bool
	lostErr error
	done    chan struct{}
}

// Dial connects to the worker's gateway socket and starts the
// response reader. Close releases the connection.
func Dial(ctx context.Context, socketPath string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to gateway %s: %w", socketPath, err)
	}

	c := &Client{
		conn:         conn,
		maxFrameSize: wire.DefaultMaxFrameSize,
		logger:       logger,
		pending:      make(map[string]chan wire.Response),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close drops the connection. Outstanding Calls return
// ErrConnectionLost.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one request and waits for its response. A zero
// CorrelationID is filled in; a context deadline is forwarded as the
// request deadline so the worker enforces the same bound. On an error
// outcome the returned error is the worker's *wire.Error; if result
// is non-nil a success payload is decoded into it.
func (c *Client) Call(ctx context.Context, request wire.Request, result any) error {
	if request.CorrelationID == "" {
		request.CorrelationID = uuid.NewString()
	}
	if request.IssuedAt.IsZero() {
		request.IssuedAt = time.Now().UTC()
	}
	if deadline, ok := ctx.Deadline(); ok && request.DeadlineMillis == 0 {
		if remaining := time.Until(deadline); remaining > 0 {
			request.DeadlineMillis = remaining.Milliseconds()
		}
	}

	ch := make(chan wire.Response, 1)
	c.mu.Lock()
	if c.closed {
		err := c.lostErr
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if _, dup := c.pending[request.CorrelationID]; dup {
		c.mu.Unlock()
		return fmt.Errorf("gateway: correlation id %q already in flight", request.CorrelationID)
	}
	c.pending[request.CorrelationID] = ch
	c.mu.Unlock()
	defer c.forget(request.CorrelationID)

	c.writeMu.Lock()
	err := wire.WriteFrame(c.conn, request, c.maxFrameSize)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("sending %s: %w", request.Operation, err)
	}

	select {
	case response := <-ch:
		return decodeResponse(response, result)
	case <-c.done:
		c.mu.Lock()
		err := c.lostErr
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeResponse(response wire.Response, result any) error {
	if response.Outcome != wire.OutcomeOK {
		if response.Error != nil {
			return response.Error
		}
		return wire.Errorf(wire.KindProtocol, "error response without error body")
	}
	if result != nil && len(response.Result) > 0 {
		if err := codec.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
	}
	return nil
}

func (c *Client) forget(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

// readLoop demultiplexes responses to their waiting callers. A
// response whose correlation ID has no waiter (the caller gave up, or
// the worker misbehaved) is logged and dropped.
func (c *Client) readLoop() {
	for {
		var response wire.Response
		if err := wire.ReadFrame(c.conn, &response, c.maxFrameSize); err != nil {
			c.mu.Lock()
			c.closed = true
			c.lostErr = err
			c.mu.Unlock()
			close(c.done)
			c.conn.Close()
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[response.CorrelationID]
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("orphan gateway response",
				"correlation_id", response.CorrelationID)
			continue
		}
		ch <- response
	}
}
