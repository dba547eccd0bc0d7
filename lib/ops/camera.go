// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/outpost-labs/outpost/lib/wire"
)

// CaptureBackend produces one still image.
type CaptureBackend interface {
	Capture(ctx context.Context) (data []byte, contentType string, err error)
}

// CommandCapture shells out to a capture tool that writes the image
// to stdout (libcamera-still and fswebcam both support this). The
// command and content type come from configuration; the worker does
// not guess at camera stacks.
type CommandCapture struct {
	// Argv is the capture command and its arguments.
	Argv []string

	// ContentType describes the produced image, e.g. "image/jpeg".
	ContentType string

	// MaxBytes caps the captured image size. Zero means 8 MiB.
	MaxBytes int
}

// Capture implements CaptureBackend.
func (c *CommandCapture) Capture(ctx context.Context) ([]byte, string, error) {
	if len(c.Argv) == 0 {
		return nil, "", wire.Errorf(wire.KindUnavailable, "no capture command configured")
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 8 * 1024 * 1024
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", wire.Errorf(wire.KindUnavailable, "capture command failed: %v: %s",
			err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, "", wire.Errorf(wire.KindUnavailable, "capture command produced no image")
	}
	if stdout.Len() > maxBytes {
		return nil, "", wire.Errorf(wire.KindResourceExhausted,
			"captured image %d bytes exceeds limit %d", stdout.Len(), maxBytes)
	}
	return stdout.Bytes(), c.ContentType, nil
}
