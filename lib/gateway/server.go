// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/outpost-labs/outpost/lib/wire"
)

// Handler processes one decoded request and produces its response.
// The router satisfies this.
type Handler interface {
	Dispatch(ctx context.Context, request wire.Request) wire.Response
}

// writeTimeout bounds a single response write. The socket is local;
// a stalled write means the peer is gone.
const writeTimeout = 10 * time.Second

// ServerConfig configures the worker-side gateway listener.
type ServerConfig struct {
	// SocketPath is where the Unix socket is created. Any stale
	// socket file is removed first.
	SocketPath string

	// SocketMode is the socket file's permission bits. Defaults to
	// 0660 so only the owner and the configured group can connect.
	SocketMode os.FileMode

	// Peers restricts which local users may connect. The zero value
	// admits root and the worker's own uid only.
	Peers PeerPolicy

	// MaxFrameSize bounds request and response frames. Defaults to
	// wire.DefaultMaxFrameSize.
	MaxFrameSize int

	// MaxConcurrent bounds the number of handlers running at once
	// across all connections. Defaults to 16. Further requests queue
	// in arrival order.
	MaxConcurrent int

	// Logger receives connection and protocol events.
	Logger *slog.Logger
}

// Server accepts gateway connections and dispatches their requests.
// Connections are persistent: a single connection carries many
// concurrent requests, each answered exactly once.
type Server struct {
	config    ServerConfig
	handler   Handler
	semaphore chan struct{}

	active sync.WaitGroup
}

// NewServer builds a Server around handler.
func NewServer(config ServerConfig, handler Handler) *Server {
	if config.SocketMode == 0 {
		config.SocketMode = 0o660
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 16
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		config:    config,
		handler:   handler,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
}

// Serve listens on the configured socket and blocks until ctx is
// cancelled, then stops accepting, lets in-flight handlers finish,
// and removes the socket file. The listener outlives any individual
// client, so a front-end restart reconnects without worker downtime.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.config.SocketPath, err)
	}

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.SocketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.config.SocketPath)
	}()

	if err := os.Chmod(s.config.SocketPath, s.config.SocketMode); err != nil {
		return fmt.Errorf("setting socket mode: %w", err)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.config.Logger.Info("gateway listening", "path", s.config.SocketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.config.Logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

// handleConnection authenticates the peer, then reads frames until the
// connection closes. Each request runs in its own goroutine under the
// server-wide concurrency limit; responses are written in completion
// order under a per-connection write lock.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		s.config.Logger.Error("gateway accepted a non-unix connection")
		return
	}
	cred, err := peerCredentials(unixConn)
	if err != nil {
		s.config.Logger.Warn("failed to read peer credentials", "error", err)
		return
	}
	if !s.config.Peers.allows(cred) {
		s.config.Logger.Warn("rejected gateway peer",
			"uid", cred.Uid, "gid", cred.Gid, "pid", cred.Pid)
		return
	}

	s.config.Logger.Debug("gateway peer connected", "uid", cred.Uid, "pid", cred.Pid)

	// Unblock the frame read when the server shuts down. In-flight
	// handlers still run to completion; only the idle read is cut.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	var writeMu sync.Mutex
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		var request wire.Request
		if err := wire.ReadFrame(conn, &request, s.config.MaxFrameSize); err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return
			}
			// A malformed frame leaves the stream position unknown;
			// answer if we can, then drop the connection.
			s.config.Logger.Warn("malformed gateway frame", "error", err)
			s.writeResponse(conn, &writeMu, wire.Fail(request.CorrelationID,
				wire.Errorf(wire.KindProtocol, "malformed frame: %v", err)))
			return
		}
		if request.CorrelationID == "" {
			s.writeResponse(conn, &writeMu, wire.Fail("",
				wire.Errorf(wire.KindProtocol, "missing correlation_id")))
			return
		}

		s.semaphore <- struct{}{}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() { <-s.semaphore }()
			response := s.handler.Dispatch(ctx, request)
			s.writeResponse(conn, &writeMu, response)
		}()
	}
}

// writeResponse writes one frame under the connection's write lock.
// Failures are logged only; the read loop notices the dead connection
// on its own.
func (s *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, response wire.Response) {
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wire.WriteFrame(conn, response, s.config.MaxFrameSize); err != nil {
		s.config.Logger.Debug("failed to write gateway response",
			"correlation_id", response.CorrelationID, "error", err)
	}
}
