// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestFrameRoundtrip(t *testing.T) {
	request := Request{
		CorrelationID: "req-1",
		Operation:     "pin.write",
		Parameters:    map[string]any{"pin": int64(17), "value": int64(1)},
		Caller:        Caller{Subject: "dashboard", Tier: TierOperator},
		IssuedAt:      time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
	}

	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, request, DefaultMaxFrameSize); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var decoded Request
	if err := ReadFrame(&buffer, &decoded, DefaultMaxFrameSize); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if decoded.CorrelationID != request.CorrelationID {
		t.Errorf("correlation id: got %q, want %q", decoded.CorrelationID, request.CorrelationID)
	}
	if decoded.Operation != request.Operation {
		t.Errorf("operation: got %q, want %q", decoded.Operation, request.Operation)
	}
	if decoded.Caller != request.Caller {
		t.Errorf("caller: got %+v, want %+v", decoded.Caller, request.Caller)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buffer bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 10*1024*1024)
	buffer.Write(header)
	// No payload follows — the reader must reject on the prefix alone.

	var decoded Request
	err := ReadFrame(&buffer, &decoded, DefaultMaxFrameSize)
	if KindOf(err) != KindProtocol {
		t.Fatalf("kind = %v, want %v (err: %v)", KindOf(err), KindProtocol, err)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buffer bytes.Buffer
	buffer.Write([]byte{0, 0, 0, 0})

	var decoded Request
	err := ReadFrame(&buffer, &decoded, DefaultMaxFrameSize)
	if KindOf(err) != KindProtocol {
		t.Fatalf("kind = %v, want %v (err: %v)", KindOf(err), KindProtocol, err)
	}
}

func TestReadFrameRejectsMalformedPayload(t *testing.T) {
	var buffer bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 4)
	buffer.Write(header)
	buffer.Write([]byte{0xff, 0xff, 0xff, 0xff})

	var decoded Request
	err := ReadFrame(&buffer, &decoded, DefaultMaxFrameSize)
	if KindOf(err) != KindProtocol {
		t.Fatalf("kind = %v, want %v (err: %v)", KindOf(err), KindProtocol, err)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	var decoded Request
	err := ReadFrame(strings.NewReader(""), &decoded, DefaultMaxFrameSize)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	request := Request{
		CorrelationID: "req-big",
		Operation:     "bus.write",
		Parameters:    map[string]any{"data": bytes.Repeat([]byte{0xAB}, 256)},
	}
	err := WriteFrame(io.Discard, request, 64)
	if KindOf(err) != KindProtocol {
		t.Fatalf("kind = %v, want %v (err: %v)", KindOf(err), KindProtocol, err)
	}
}

func TestErrorKindPreservation(t *testing.T) {
	original := Errorf(KindConflict, "update already in progress").WithDetail("session_id", "s-1")

	response := Fail("req-2", original)
	if response.Outcome != OutcomeError {
		t.Fatalf("outcome = %v", response.Outcome)
	}
	if response.Error.Kind != KindConflict {
		t.Errorf("kind = %v, want %v", response.Error.Kind, KindConflict)
	}
	if response.Error.Detail["session_id"] != "s-1" {
		t.Errorf("detail = %v", response.Error.Detail)
	}
}

func TestAsErrorMapsPlainErrors(t *testing.T) {
	err := errors.New("disk on fire")
	wireErr := AsError(err)
	if wireErr.Kind != KindInternal {
		t.Errorf("kind = %v, want %v", wireErr.Kind, KindInternal)
	}
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}
}
