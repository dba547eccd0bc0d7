// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/outpost-labs/outpost/lib/wire"
)

// GPIOBackend reads and writes digital pin levels.
type GPIOBackend interface {
	ReadPin(ctx context.Context, pin int) (int, error)
	WritePin(ctx context.Context, pin, value int) error
}

// SysfsGPIO drives pins through the kernel's sysfs GPIO interface.
// Pins are exported lazily on first touch and left exported; the
// worker owns the pins it is policied for, and unexporting on every
// call would race concurrent reads.
type SysfsGPIO struct {
	// Root is the sysfs GPIO directory, normally /sys/class/gpio.
	Root string
}

func (g *SysfsGPIO) pinDir(pin int) string {
	return filepath.Join(g.Root, fmt.Sprintf("gpio%d", pin))
}

// export makes the pin's sysfs directory appear if it hasn't already.
func (g *SysfsGPIO) export(pin int) error {
	if _, err := os.Stat(g.pinDir(pin)); err == nil {
		return nil
	}
	if err := os.WriteFile(filepath.Join(g.Root, "export"), fmt.Appendf(nil, "%d", pin), 0o200); err != nil {
		return fmt.Errorf("exporting gpio %d: %w", pin, err)
	}
	return nil
}

func (g *SysfsGPIO) setDirection(pin int, direction string) error {
	path := filepath.Join(g.pinDir(pin), "direction")
	if err := os.WriteFile(path, []byte(direction), 0o644); err != nil {
		return fmt.Errorf("setting gpio %d direction: %w", pin, err)
	}
	return nil
}

// ReadPin implements GPIOBackend.
func (g *SysfsGPIO) ReadPin(_ context.Context, pin int) (int, error) {
	if err := g.export(pin); err != nil {
		return 0, wire.Errorf(wire.KindUnavailable, "%v", err)
	}
	if err := g.setDirection(pin, "in"); err != nil {
		return 0, wire.Errorf(wire.KindUnavailable, "%v", err)
	}
	data, err := os.ReadFile(filepath.Join(g.pinDir(pin), "value"))
	if err != nil {
		return 0, wire.Errorf(wire.KindUnavailable, "reading gpio %d: %v", pin, err)
	}
	switch strings.TrimSpace(string(data)) {
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	}
	return 0, wire.Errorf(wire.KindInternal, "gpio %d reported %q", pin, strings.TrimSpace(string(data)))
}

// WritePin implements GPIOBackend.
func (g *SysfsGPIO) WritePin(_ context.Context, pin, value int) error {
	if value != 0 && value != 1 {
		return wire.Errorf(wire.KindInvalidArgument, "pin value must be 0 or 1, got %d", value)
	}
	if err := g.export(pin); err != nil {
		return wire.Errorf(wire.KindUnavailable, "%v", err)
	}
	if err := g.setDirection(pin, "out"); err != nil {
		return wire.Errorf(wire.KindUnavailable, "%v", err)
	}
	path := filepath.Join(g.pinDir(pin), "value")
	if err := os.WriteFile(path, fmt.Appendf(nil, "%d", value), 0o644); err != nil {
		return wire.Errorf(wire.KindUnavailable, "writing gpio %d: %v", pin, err)
	}
	return nil
}
