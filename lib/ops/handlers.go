// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"context"
	"time"

	"github.com/outpost-labs/outpost/lib/release"
	"github.com/outpost-labs/outpost/lib/router"
	"github.com/outpost-labs/outpost/lib/update"
	"github.com/outpost-labs/outpost/lib/version"
	"github.com/outpost-labs/outpost/lib/wire"
)

// Handlers binds backends and the release/update machinery into
// gateway operation handlers.
type Handlers struct {
	GPIO    GPIOBackend
	Bus     BusBackend
	Camera  CaptureBackend
	Service ServiceBackend
	Power   PowerBackend

	Releases *release.Manager
	Updates  *update.Engine

	// Started stamps agent.status uptime.
	Started time.Time
}

// RegisterAll binds every operation on r. An operation whose backend
// is nil is simply not registered; the router then answers not_found,
// which is the right reply for hardware the device does not have.
func (h *Handlers) RegisterAll(r *router.Router) {
	if h.GPIO != nil {
		r.Register("pin.read", h.pinRead)
		r.Register("pin.write", h.pinWrite)
	}
	if h.Bus != nil {
		r.Register("bus.read", h.busRead)
		r.Register("bus.write", h.busWrite)
	}
	if h.Camera != nil {
		r.Register("camera.capture", h.cameraCapture)
	}
	if h.Service != nil {
		r.Register("service.restart", h.serviceRestart)
		r.Register("service.status", h.serviceStatus)
	}
	if h.Power != nil {
		r.Register("power.reboot", h.powerReboot)
		r.Register("power.shutdown", h.powerShutdown)
	}
	if h.Releases != nil {
		r.Register("release.list", h.releaseList)
		r.Register("release.stage", h.releaseStage)
		r.Register("release.activate", h.releaseActivate)
		r.Register("release.retire", h.releaseRetire)
	}
	if h.Updates != nil {
		r.Register("update.start", h.updateStart)
		r.Register("update.status", h.updateStatus)
		r.Register("update.cancel", h.updateCancel)
		r.Register("update.rollback", h.updateRollback)
		r.Register("update.clear-failure", h.updateClearFailure)
	}
	r.Register("agent.status", h.agentStatus)
}

func (h *Handlers) pinRead(ctx context.Context, request wire.Request) (any, error) {
	pin, err := intParam(request.Parameters, "pin")
	if err != nil {
		return nil, err
	}
	value, err := h.GPIO.ReadPin(ctx, pin)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pin": pin, "value": value}, nil
}

func (h *Handlers) pinWrite(ctx context.Context, request wire.Request) (any, error) {
	pin, err := intParam(request.Parameters, "pin")
	if err != nil {
		return nil, err
	}
	value, err := intParam(request.Parameters, "value")
	if err != nil {
		return nil, err
	}
	if err := h.GPIO.WritePin(ctx, pin, value); err != nil {
		return nil, err
	}
	return map[string]any{"pin": pin, "value": value}, nil
}

func (h *Handlers) busRead(ctx context.Context, request wire.Request) (any, error) {
	bus, err := intParam(request.Parameters, "bus")
	if err != nil {
		return nil, err
	}
	address, err := intParam(request.Parameters, "address")
	if err != nil {
		return nil, err
	}
	count, err := intParam(request.Parameters, "count")
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, wire.Errorf(wire.KindInvalidArgument, "count must be positive, got %d", count)
	}
	data, err := h.Bus.ReadBus(ctx, bus, address, count)
	if err != nil {
		return nil, err
	}
	return map[string]any{"data": data}, nil
}

func (h *Handlers) busWrite(ctx context.Context, request wire.Request) (any, error) {
	bus, err := intParam(request.Parameters, "bus")
	if err != nil {
		return nil, err
	}
	address, err := intParam(request.Parameters, "address")
	if err != nil {
		return nil, err
	}
	data, err := bytesParam(request.Parameters, "data")
	if err != nil {
		return nil, err
	}
	written, err := h.Bus.WriteBus(ctx, bus, address, data)
	if err != nil {
		return nil, err
	}
	return map[string]any{"written": written}, nil
}

func (h *Handlers) cameraCapture(ctx context.Context, request wire.Request) (any, error) {
	data, contentType, err := h.Camera.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"data":         data,
		"content_type": contentType,
		"size":         len(data),
	}, nil
}

func (h *Handlers) serviceRestart(ctx context.Context, request wire.Request) (any, error) {
	service, err := stringParam(request.Parameters, "service")
	if err != nil {
		return nil, err
	}
	if err := h.Service.RestartService(ctx, service); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *Handlers) serviceStatus(ctx context.Context, request wire.Request) (any, error) {
	service, err := stringParam(request.Parameters, "service")
	if err != nil {
		return nil, err
	}
	return h.Service.ServiceStatus(ctx, service)
}

func (h *Handlers) powerReboot(ctx context.Context, request wire.Request) (any, error) {
	return nil, h.Power.Reboot(ctx)
}

func (h *Handlers) powerShutdown(ctx context.Context, request wire.Request) (any, error) {
	return nil, h.Power.Shutdown(ctx)
}

// releaseView is the wire shape of a release record.
type releaseView struct {
	Version     string    `cbor:"version"      json:"version"`
	Status      string    `cbor:"status"       json:"status"`
	InstalledAt time.Time `cbor:"installed_at" json:"installed_at"`
}

func (h *Handlers) releaseList(ctx context.Context, request wire.Request) (any, error) {
	records, err := h.Releases.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]releaseView, 0, len(records))
	for _, record := range records {
		views = append(views, releaseView{
			Version:     record.Version,
			Status:      string(record.Status),
			InstalledAt: record.InstalledAt,
		})
	}
	return map[string]any{"releases": views}, nil
}

func (h *Handlers) releaseStage(ctx context.Context, request wire.Request) (any, error) {
	versionID, err := stringParam(request.Parameters, "version")
	if err != nil {
		return nil, err
	}
	bundlePath, err := stringParam(request.Parameters, "bundle_path")
	if err != nil {
		return nil, err
	}
	digest, err := stringParam(request.Parameters, "digest")
	if err != nil {
		return nil, err
	}
	record, err := h.Releases.Stage(ctx, versionID, bundlePath, digest)
	if err != nil {
		return nil, err
	}
	return releaseView{
		Version:     record.Version,
		Status:      string(record.Status),
		InstalledAt: record.InstalledAt,
	}, nil
}

func (h *Handlers) releaseActivate(ctx context.Context, request wire.Request) (any, error) {
	versionID, err := stringParam(request.Parameters, "version")
	if err != nil {
		return nil, err
	}
	if err := h.Releases.Activate(ctx, versionID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *Handlers) releaseRetire(ctx context.Context, request wire.Request) (any, error) {
	versionID, err := stringParam(request.Parameters, "version")
	if err != nil {
		return nil, err
	}
	if err := h.Releases.Retire(ctx, versionID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *Handlers) updateStart(ctx context.Context, request wire.Request) (any, error) {
	versionID, err := stringParam(request.Parameters, "version")
	if err != nil {
		return nil, err
	}
	session, err := h.Updates.Start(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": session.ID,
		"state":      string(session.State),
	}, nil
}

func (h *Handlers) updateStatus(ctx context.Context, request wire.Request) (any, error) {
	return h.Updates.Status(ctx)
}

func (h *Handlers) updateCancel(ctx context.Context, request wire.Request) (any, error) {
	return nil, h.Updates.Cancel(ctx)
}

func (h *Handlers) updateRollback(ctx context.Context, request wire.Request) (any, error) {
	session, err := h.Updates.Rollback(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": session.ID,
		"state":      string(session.State),
	}, nil
}

func (h *Handlers) updateClearFailure(ctx context.Context, request wire.Request) (any, error) {
	return nil, h.Updates.ClearFailure(ctx)
}

// agentStatus reports worker identity and the update projection in
// one call; it stays registered even on a worker with no hardware
// backends so health tooling always has something to ask.
func (h *Handlers) agentStatus(ctx context.Context, request wire.Request) (any, error) {
	result := map[string]any{
		"version":        version.Info(),
		"uptime_seconds": int64(time.Since(h.Started).Seconds()),
	}
	if h.Updates != nil {
		status, err := h.Updates.Status(ctx)
		if err != nil {
			return nil, err
		}
		result["current_version"] = status.CurrentVersion
		result["update_session"] = status.Session
		result["last_rollback"] = status.LastRollback
	}
	return result, nil
}
