// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/outpost-labs/outpost/lib/clock"
	"github.com/outpost-labs/outpost/lib/gateway"
	"github.com/outpost-labs/outpost/lib/policy"
	"github.com/outpost-labs/outpost/lib/wire"
)

const testPolicy = `
operations:
  pin.read:
    min_tier: observer
    bounds:
      pins: [17]
  pin.write:
    min_tier: operator
    bounds:
      pins: [17]
  agent.status:
    min_tier: observer
`

// fakeWorker records forwarded requests and replies from a script.
type fakeWorker struct {
	requests []wire.Request
	reply    func(request wire.Request, result any) error
}

func (f *fakeWorker) Call(_ context.Context, request wire.Request, result any) error {
	f.requests = append(f.requests, request)
	if f.reply == nil {
		return nil
	}
	return f.reply(request, result)
}

func newTestServer(t *testing.T, worker WorkerCaller) *Server {
	t.Helper()
	pol, err := policy.Parse([]byte(testPolicy))
	if err != nil {
		t.Fatalf("policy.Parse: %v", err)
	}
	return NewServer(ServerConfig{
		SocketPath: "unused",
		Worker:     worker,
		Validator:  policy.NewValidator(pol, policy.NewRateLimiter(clock.Real()), nil),
	})
}

func postOperation(t *testing.T, handler http.Handler, operation, tier, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/v1/ops/"+operation, strings.NewReader(body))
	request.Header.Set("X-Outpost-Subject", "tester")
	request.Header.Set("X-Outpost-Tier", tier)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestOperationForwardsToWorker(t *testing.T) {
	worker := &fakeWorker{}
	server := newTestServer(t, worker)

	recorder := postOperation(t, server.Handler(), "pin.read", "observer",
		`{"parameters": {"pin": 17}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body)
	}

	if len(worker.requests) != 1 {
		t.Fatalf("worker saw %d requests", len(worker.requests))
	}
	forwarded := worker.requests[0]
	if forwarded.Operation != "pin.read" || forwarded.Caller.Subject != "tester" {
		t.Errorf("forwarded = %+v", forwarded)
	}
	if forwarded.Caller.Tier != wire.TierObserver {
		t.Errorf("tier = %v", forwarded.Caller.Tier)
	}
}

func TestEdgeValidationRejectsWithoutForwarding(t *testing.T) {
	worker := &fakeWorker{}
	server := newTestServer(t, worker)
	handler := server.Handler()

	// Observer attempting an operator-tier write.
	recorder := postOperation(t, handler, "pin.write", "observer",
		`{"parameters": {"pin": 17, "value": 1}}`)
	if recorder.Code != http.StatusForbidden {
		t.Errorf("tier violation status = %d", recorder.Code)
	}

	// Out-of-bounds pin.
	recorder = postOperation(t, handler, "pin.read", "observer",
		`{"parameters": {"pin": 99}}`)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("bounds violation status = %d", recorder.Code)
	}

	// Unlisted operation.
	recorder = postOperation(t, handler, "pin.glow", "admin", `{}`)
	if recorder.Code != http.StatusForbidden {
		t.Errorf("unlisted operation status = %d", recorder.Code)
	}

	if len(worker.requests) != 0 {
		t.Errorf("worker saw %d requests, want 0", len(worker.requests))
	}
}

func TestWorkerErrorMapsToStatus(t *testing.T) {
	worker := &fakeWorker{reply: func(request wire.Request, _ any) error {
		return wire.Errorf(wire.KindConflict, "session in progress")
	}}
	server := newTestServer(t, worker)

	recorder := postOperation(t, server.Handler(), "pin.read", "observer",
		`{"parameters": {"pin": 17}}`)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("status = %d", recorder.Code)
	}

	var body struct {
		Outcome string `json:"outcome"`
		Error   struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Outcome != "error" || body.Error.Kind != "conflict" {
		t.Errorf("body = %+v", body)
	}
}

func TestConnectionLossIsServiceUnavailable(t *testing.T) {
	worker := &fakeWorker{reply: func(request wire.Request, _ any) error {
		return gateway.ErrConnectionLost
	}}
	server := newTestServer(t, worker)

	recorder := postOperation(t, server.Handler(), "pin.read", "observer",
		`{"parameters": {"pin": 17}}`)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "outcome unknown") {
		t.Errorf("body = %s", recorder.Body)
	}
}

func TestHealthzProbesTheWorker(t *testing.T) {
	worker := &fakeWorker{}
	server := newTestServer(t, worker)

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if len(worker.requests) != 1 || worker.requests[0].Operation != "agent.status" {
		t.Errorf("worker requests = %+v", worker.requests)
	}

	// When the worker is unreachable the agent is not live.
	worker.reply = func(wire.Request, any) error { return gateway.ErrConnectionLost }
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("status with dead worker = %d", recorder.Code)
	}
}
