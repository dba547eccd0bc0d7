// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Prober checks that the restarted front end is responding correctly.
// A nil error is a successful liveness confirmation.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber probes the agent's health endpoint. The agent listens on
// a unix socket, so the HTTP client dials through it regardless of
// the URL's host part.
type HTTPProber struct {
	// SocketPath is the agent's HTTP unix socket.
	SocketPath string

	// Path is the health endpoint path, e.g. "/healthz".
	Path string
}

// Probe implements Prober. Any response other than 200 OK is a
// failed probe: a half-started agent that answers 503 is not live.
func (p *HTTPProber) Probe(ctx context.Context) error {
	client := http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", p.SocketPath)
			},
		},
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://agent"+p.Path, nil)
	if err != nil {
		return err
	}
	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("probing %s: %w", p.SocketPath, err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, 4096))

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned %s", response.Status)
	}
	return nil
}

// FuncProber adapts a function to Prober. Tests script probe
// outcomes with it.
type FuncProber func(ctx context.Context) error

// Probe implements Prober.
func (f FuncProber) Probe(ctx context.Context) error { return f(ctx) }
