// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/outpost-labs/outpost/lib/gateway"
	"github.com/outpost-labs/outpost/lib/policy"
	"github.com/outpost-labs/outpost/lib/wire"
)

// WorkerCaller is the slice of the gateway client the agent needs.
type WorkerCaller interface {
	Call(ctx context.Context, request wire.Request, result any) error
}

// ServerConfig configures the agent's HTTP surface.
type ServerConfig struct {
	// SocketPath is the Unix socket the HTTP server listens on.
	SocketPath string

	// Worker forwards validated requests to the worker gateway.
	Worker WorkerCaller

	// Validator runs the agent-side validation layer. Built without
	// epoch state; epochs are checked only by the worker.
	Validator *policy.Validator

	// RequestTimeout bounds one forwarded request end to end.
	RequestTimeout time.Duration

	// Logger receives request logs.
	Logger *slog.Logger
}

// Server is the agent's HTTP front end.
type Server struct {
	config ServerConfig
}

// NewServer builds the HTTP surface.
func NewServer(config ServerConfig) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{config: config}
}

// Serve listens on the Unix socket and blocks until ctx is cancelled,
// then drains in-flight requests. Any stale socket file is replaced.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.config.SocketPath, err)
	}
	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.SocketPath, err)
	}
	defer os.Remove(s.config.SocketPath)

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	s.config.Logger.Info("agent listening", "path", s.config.SocketPath)

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("agent shutdown: %w", err)
	}
	return nil
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/ops/{operation}", s.handleOperation)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Liveness means the full path works: the probe goes through to
	// the worker, not just to this process's accept loop.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	err := s.config.Worker.Call(ctx, wire.Request{
		Operation: "agent.status",
		Caller:    wire.Caller{Subject: "agent-health", Tier: wire.TierObserver},
	}, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	var result any
	err := s.config.Worker.Call(ctx, wire.Request{
		Operation: "agent.status",
		Caller:    callerFrom(r),
	}, &result)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": "ok", "result": result})
}

// operationBody is the JSON request body for POST /v1/ops/{operation}.
type operationBody struct {
	Parameters map[string]any `json:"parameters"`
	Epoch      uint64         `json:"epoch"`
	DeadlineMS int64          `json:"deadline_ms"`
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	operation := r.PathValue("operation")
	caller := callerFrom(r)

	var body operationBody
	if r.ContentLength != 0 {
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		if err := decoder.Decode(&body); err != nil {
			s.writeError(w, wire.Errorf(wire.KindProtocol, "malformed request body: %v", err))
			return
		}
	}

	request := wire.Request{
		Operation:      operation,
		Parameters:     body.Parameters,
		Caller:         caller,
		IssuedAt:       time.Now().UTC(),
		Epoch:          body.Epoch,
		DeadlineMillis: body.DeadlineMS,
	}

	// First validation layer. Everything that passes here is checked
	// again by the worker with the same policy.
	if wireErr := s.config.Validator.Validate(request); wireErr != nil {
		s.config.Logger.Warn("request rejected at the edge",
			"operation", operation,
			"subject", caller.Subject,
			"kind", wireErr.Kind,
		)
		s.writeError(w, wireErr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	var result any
	if err := s.config.Worker.Call(ctx, request, &result); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": "ok", "result": result})
}

// callerFrom derives the caller identity from request headers. The
// agent socket is local and permission-guarded; whatever fronts it
// (a TLS terminator, an SSH forced command) authenticates the human
// and sets these headers.
func callerFrom(r *http.Request) wire.Caller {
	subject := strings.TrimSpace(r.Header.Get("X-Outpost-Subject"))
	if subject == "" {
		subject = "local"
	}
	tier, ok := wire.ParseTier(strings.TrimSpace(r.Header.Get("X-Outpost-Tier")))
	if !ok {
		tier = wire.TierObserver
	}
	return wire.Caller{Subject: subject, Tier: tier}
}

// writeError maps a gateway or validation error onto the HTTP surface.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, gateway.ErrConnectionLost) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"outcome": "error",
			"error": map[string]any{
				"kind":    string(wire.KindUnavailable),
				"message": "worker connection lost; operation outcome unknown",
			},
		})
		return
	}

	wireErr := wire.AsError(err)
	payload := map[string]any{
		"kind":    string(wireErr.Kind),
		"message": wireErr.Message,
	}
	if len(wireErr.Detail) > 0 {
		payload["detail"] = wireErr.Detail
	}
	writeJSON(w, statusFor(wireErr.Kind), map[string]any{
		"outcome": "error",
		"error":   payload,
	})
}

func statusFor(kind wire.Kind) int {
	switch kind {
	case wire.KindProtocol, wire.KindInvalidArgument:
		return http.StatusBadRequest
	case wire.KindNotFound:
		return http.StatusNotFound
	case wire.KindPermissionDenied:
		return http.StatusForbidden
	case wire.KindResourceExhausted:
		return http.StatusTooManyRequests
	case wire.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case wire.KindConflict:
		return http.StatusConflict
	case wire.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
