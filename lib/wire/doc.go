// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the gateway protocol between the unprivileged
// agent and the privileged worker: the request and response envelopes,
// the symbolic error kinds, and the length-prefixed frame codec.
//
// Every message on the gateway socket is one frame: a 4-byte big-endian
// payload length followed by a CBOR-encoded envelope. The explicit
// prefix lets the reader bound allocation before decoding and reject
// oversized frames without consuming them. The correlation ID inside
// the envelope lets concurrent callers share one connection; the client
// side demultiplexes responses by ID.
//
// Error kinds are symbolic strings, stable across releases. The two
// processes may run different versions mid-update, so neither side may
// assume the other recognizes a kind introduced later; unknown kinds
// degrade to their message text.
package wire
