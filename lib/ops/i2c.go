// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/outpost-labs/outpost/lib/wire"
)

// BusBackend moves bytes over an I2C bus.
type BusBackend interface {
	ReadBus(ctx context.Context, bus, address, count int) ([]byte, error)
	WriteBus(ctx context.Context, bus, address int, data []byte) (int, error)
}

// i2cSlave is the I2C_SLAVE ioctl from the kernel UAPI header
// (include/uapi/linux/i2c-dev.h). Stable ABI.
const i2cSlave = 0x0703

// DevI2C talks to /dev/i2c-N character devices. Each transfer opens
// the device, binds the slave address, performs one read or write, and
// closes. The kernel serializes transfers on the bus; holding the
// device open across requests buys nothing and pins the bus.
type DevI2C struct {
	// DevDir is the device directory, normally /dev.
	DevDir string
}

func (d *DevI2C) open(bus, address int) (*os.File, error) {
	path := fmt.Sprintf("%s/i2c-%d", d.DevDir, bus)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, wire.Errorf(wire.KindUnavailable, "opening %s: %v", path, err)
	}
	if err := unix.IoctlSetInt(int(file.Fd()), i2cSlave, address); err != nil {
		file.Close()
		return nil, wire.Errorf(wire.KindUnavailable, "binding address %#x on bus %d: %v", address, bus, err)
	}
	return file, nil
}

// ReadBus implements BusBackend.
func (d *DevI2C) ReadBus(_ context.Context, bus, address, count int) ([]byte, error) {
	file, err := d.open(bus, address)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data := make([]byte, count)
	n, err := file.Read(data)
	if err != nil {
		return nil, wire.Errorf(wire.KindUnavailable, "reading %d bytes from %#x on bus %d: %v", count, address, bus, err)
	}
	return data[:n], nil
}

// WriteBus implements BusBackend.
func (d *DevI2C) WriteBus(_ context.Context, bus, address int, data []byte) (int, error) {
	file, err := d.open(bus, address)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	n, err := file.Write(data)
	if err != nil {
		return n, wire.Errorf(wire.KindUnavailable, "writing %d bytes to %#x on bus %d: %v", len(data), address, bus, err)
	}
	return n, nil
}
