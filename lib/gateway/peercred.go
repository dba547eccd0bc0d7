// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"net"
	"os"
	"slices"

	"golang.org/x/sys/unix"
)

// PeerPolicy decides which local users may speak to the gateway
// socket. Root and the worker's own uid are always allowed; the
// allowlists extend that set.
type PeerPolicy struct {
	AllowedUIDs []uint32
	AllowedGIDs []uint32
}

// peerCredentials reads the connecting process's uid/gid via
// SO_PEERCRED. The kernel fills these in; the peer cannot forge them.
func peerCredentials(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("raw connection: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("socket control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("SO_PEERCRED: %w", credErr)
	}
	return cred, nil
}

// allows reports whether cred may use the gateway.
func (p *PeerPolicy) allows(cred *unix.Ucred) bool {
	if cred.Uid == 0 || cred.Uid == uint32(os.Getuid()) {
		return true
	}
	if slices.Contains(p.AllowedUIDs, cred.Uid) {
		return true
	}
	return slices.Contains(p.AllowedGIDs, cred.Gid)
}
