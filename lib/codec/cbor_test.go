// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleEnvelope is a representative internal message using cbor
// struct tags.
type sampleEnvelope struct {
	Operation string `cbor:"operation"`
	Subject   string `cbor:"subject,omitempty"`
	Count     int    `cbor:"count"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleEnvelope{
		Operation: "pin.write",
		Subject:   "ops/adele",
		Count:     42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleEnvelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	message := sampleEnvelope{Operation: "update.status", Subject: "ops/adele", Count: 7}

	first, err := Marshal(message)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(message)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	messages := []sampleEnvelope{
		{Operation: "pin.read", Subject: "a", Count: 1},
		{Operation: "bus.read", Subject: "b", Count: 2},
		{Operation: "agent.status", Count: 0},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, message := range messages {
		if err := encoder.Encode(message); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range messages {
		var got sampleEnvelope
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode message %d: %v", i, err)
		}
		if got != want {
			t.Errorf("message %d: got %+v, want %+v", i, got, want)
		}
	}
}

// TestAnyMapDecoding pins the DefaultMapType configuration: parameter
// bags decoded into any-typed targets must come back as
// map[string]any, never map[interface{}]interface{}.
func TestAnyMapDecoding(t *testing.T) {
	data, err := Marshal(map[string]any{"pin": 17, "nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", top["nested"])
	}
}

// TestUnknownFieldsIgnored pins forward compatibility across version
// skew: a newer peer's extra fields must not break decoding.
func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{
		"operation": "pin.read",
		"count":     3,
		"novel":     "from-the-future",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleEnvelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Operation != "pin.read" || decoded.Count != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}
