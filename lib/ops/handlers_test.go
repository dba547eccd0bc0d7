// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/outpost-labs/outpost/lib/audit"
	"github.com/outpost-labs/outpost/lib/clock"
	"github.com/outpost-labs/outpost/lib/policy"
	"github.com/outpost-labs/outpost/lib/router"
	"github.com/outpost-labs/outpost/lib/wire"
)

type fakeGPIO struct {
	values map[int]int
}

func (f *fakeGPIO) ReadPin(_ context.Context, pin int) (int, error) {
	return f.values[pin], nil
}

func (f *fakeGPIO) WritePin(_ context.Context, pin, value int) error {
	if value != 0 && value != 1 {
		return wire.Errorf(wire.KindInvalidArgument, "pin value must be 0 or 1, got %d", value)
	}
	f.values[pin] = value
	return nil
}

type fakeBus struct {
	registers map[int][]byte
	lastWrite []byte
}

func (f *fakeBus) ReadBus(_ context.Context, bus, address, count int) ([]byte, error) {
	data := f.registers[address]
	if count < len(data) {
		data = data[:count]
	}
	return data, nil
}

func (f *fakeBus) WriteBus(_ context.Context, bus, address int, data []byte) (int, error) {
	f.lastWrite = data
	return len(data), nil
}

type fakeService struct {
	restarted []string
}

func (f *fakeService) RestartService(_ context.Context, service string) error {
	f.restarted = append(f.restarted, service)
	return nil
}

func (f *fakeService) ServiceStatus(_ context.Context, service string) (ServiceStatus, error) {
	return ServiceStatus{Service: service, Active: true, State: "active"}, nil
}

func request(operation string, parameters map[string]any) wire.Request {
	return wire.Request{
		CorrelationID: "t",
		Operation:     operation,
		Parameters:    parameters,
		Caller:        wire.Caller{Subject: "tester", Tier: wire.TierOperator},
	}
}

func TestPinHandlers(t *testing.T) {
	gpio := &fakeGPIO{values: map[int]int{17: 1}}
	h := &Handlers{GPIO: gpio}
	ctx := context.Background()

	result, err := h.pinRead(ctx, request("pin.read", map[string]any{"pin": int64(17)}))
	if err != nil {
		t.Fatalf("pinRead: %v", err)
	}
	if result.(map[string]any)["value"] != 1 {
		t.Errorf("read value = %v, want 1", result.(map[string]any)["value"])
	}

	if _, err := h.pinWrite(ctx, request("pin.write", map[string]any{"pin": int64(27), "value": int64(1)})); err != nil {
		t.Fatalf("pinWrite: %v", err)
	}
	if gpio.values[27] != 1 {
		t.Errorf("pin 27 = %d after write, want 1", gpio.values[27])
	}

	if _, err := h.pinWrite(ctx, request("pin.write", map[string]any{"pin": int64(27)})); wire.KindOf(err) != wire.KindInvalidArgument {
		t.Errorf("missing value: kind = %v, want invalid_argument", wire.KindOf(err))
	}
}

func TestBusHandlers(t *testing.T) {
	bus := &fakeBus{registers: map[int][]byte{0x48: {0x01, 0x9A}}}
	h := &Handlers{Bus: bus}
	ctx := context.Background()

	result, err := h.busRead(ctx, request("bus.read", map[string]any{
		"bus": int64(1), "address": int64(0x48), "count": int64(2),
	}))
	if err != nil {
		t.Fatalf("busRead: %v", err)
	}
	data := result.(map[string]any)["data"].([]byte)
	if !bytes.Equal(data, []byte{0x01, 0x9A}) {
		t.Errorf("read data = %x", data)
	}

	if _, err := h.busRead(ctx, request("bus.read", map[string]any{
		"bus": int64(1), "address": int64(0x48), "count": int64(0),
	})); wire.KindOf(err) != wire.KindInvalidArgument {
		t.Errorf("zero count: kind = %v, want invalid_argument", wire.KindOf(err))
	}

	payload := []byte{0xDE, 0xAD}
	result, err = h.busWrite(ctx, request("bus.write", map[string]any{
		"bus": int64(1), "address": int64(0x48), "data": payload,
	}))
	if err != nil {
		t.Fatalf("busWrite: %v", err)
	}
	if result.(map[string]any)["written"] != 2 {
		t.Errorf("written = %v, want 2", result.(map[string]any)["written"])
	}
	if !bytes.Equal(bus.lastWrite, payload) {
		t.Errorf("backend saw %x", bus.lastWrite)
	}
}

func TestServiceHandlers(t *testing.T) {
	backend := &fakeService{}
	h := &Handlers{Service: backend}
	ctx := context.Background()

	if _, err := h.serviceRestart(ctx, request("service.restart", map[string]any{"service": "outpost-agent"})); err != nil {
		t.Fatalf("serviceRestart: %v", err)
	}
	if len(backend.restarted) != 1 || backend.restarted[0] != "outpost-agent" {
		t.Errorf("restarted = %v", backend.restarted)
	}

	result, err := h.serviceStatus(ctx, request("service.status", map[string]any{"service": "outpost-agent"}))
	if err != nil {
		t.Fatalf("serviceStatus: %v", err)
	}
	status := result.(ServiceStatus)
	if !status.Active || status.State != "active" {
		t.Errorf("status = %+v", status)
	}
}

func TestCameraHandlerBoundsSize(t *testing.T) {
	h := &Handlers{Camera: captureFunc(func(context.Context) ([]byte, string, error) {
		return []byte{0xFF, 0xD8, 0xFF}, "image/jpeg", nil
	})}
	result, err := h.cameraCapture(context.Background(), request("camera.capture", nil))
	if err != nil {
		t.Fatalf("cameraCapture: %v", err)
	}
	fields := result.(map[string]any)
	if fields["content_type"] != "image/jpeg" || fields["size"] != 3 {
		t.Errorf("result = %v", fields)
	}
}

type captureFunc func(ctx context.Context) ([]byte, string, error)

func (f captureFunc) Capture(ctx context.Context) ([]byte, string, error) { return f(ctx) }

// TestRegisterAllSkipsAbsentBackends wires only GPIO and confirms the
// router answers not_found for operations whose hardware is absent.
func TestRegisterAllSkipsAbsentBackends(t *testing.T) {
	pol, err := policy.Parse([]byte(`
operations:
  pin.read:
    min_tier: observer
  bus.read:
    min_tier: observer
  agent.status:
    min_tier: observer
`))
	if err != nil {
		t.Fatal(err)
	}
	r := router.New(router.Config{
		Validator: policy.NewValidator(pol, policy.NewRateLimiter(clock.Real()), nil),
		Audit:     audit.Nop{},
		Logger:    slog.New(slog.DiscardHandler),
	})
	h := &Handlers{GPIO: &fakeGPIO{values: map[int]int{}}}
	h.RegisterAll(r)
	ctx := context.Background()

	if response := r.Dispatch(ctx, request("pin.read", map[string]any{"pin": int64(4)})); response.Error != nil {
		t.Errorf("pin.read: %v", response.Error)
	}
	if response := r.Dispatch(ctx, request("bus.read", nil)); response.Error == nil || response.Error.Kind != wire.KindNotFound {
		t.Errorf("bus.read on busless device = %+v, want not_found", response)
	}
	if response := r.Dispatch(ctx, request("agent.status", nil)); response.Error != nil {
		t.Errorf("agent.status: %v", response.Error)
	}
}
