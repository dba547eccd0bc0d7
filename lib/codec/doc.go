// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Outpost's standard CBOR encoding configuration.
//
// Outpost uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the agent's HTTP surface, CLI
//     output, and human-edited files (the watchdog transition file).
//   - CBOR for the internal gateway protocol between the agent and the
//     worker, and for compact on-disk state.
//
// This package provides the shared CBOR encoding and decoding modes so
// that both processes encode identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which keeps frame sizes predictable and replay detection
// byte-exact.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Gateway frames carry pre-marshaled payloads, so the stream encoder is
// rarely needed outside tests.
package codec
