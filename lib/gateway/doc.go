// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway carries privileged operation requests between the
// agent front end and the worker over a local Unix socket.
//
// Connections are persistent and multiplexed: the client tags each
// request with a correlation ID and demultiplexes responses as they
// arrive, so a slow operation never blocks an unrelated one. Frames
// are length-prefixed CBOR envelopes (lib/wire). The worker verifies
// the peer's credentials on every accepted connection before reading
// a single byte of protocol.
package gateway
