// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/outpost-labs/outpost/lib/codec"
)

// DefaultMaxFrameSize bounds a single frame's payload. 1 MiB is
// generous for any gateway operation — the largest legitimate payload
// is a release-stage request, and those carry a bundle path, not the
// bundle itself.
const DefaultMaxFrameSize = 1024 * 1024

// frameHeaderSize is the byte-length prefix: a 4-byte big-endian
// unsigned payload length.
const frameHeaderSize = 4

// WriteFrame encodes v as CBOR and writes one length-prefixed frame to
// w. Returns a protocol error if the encoded payload exceeds maxSize.
// Callers serialize writes to a shared connection themselves.
func WriteFrame(w io.Writer, v any, maxSize int) error {
	payload, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame payload: %w", err)
	}
	if len(payload) > maxSize {
		return Errorf(KindProtocol, "frame payload %d bytes exceeds limit %d", len(payload), maxSize)
	}

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	// Single Write for header+payload so a concurrent writer guarded
	// only by the caller's mutex cannot interleave mid-frame.
	buf := make([]byte, 0, frameHeaderSize+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes its
// CBOR payload into v. An oversized length prefix is rejected before
// any payload is read, so a hostile peer cannot force a large
// allocation. io.EOF is returned unwrapped when the connection closes
// cleanly between frames.
func ReadFrame(r io.Reader, v any, maxSize int) error {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("reading frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return Errorf(KindProtocol, "zero-length frame")
	}
	if int(length) > maxSize {
		return Errorf(KindProtocol, "frame length %d exceeds limit %d", length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("reading frame payload: %w", err)
	}

	if err := codec.Unmarshal(payload, v); err != nil {
		return Errorf(KindProtocol, "decoding frame payload: %v", err)
	}
	return nil
}
