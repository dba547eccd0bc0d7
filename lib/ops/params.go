// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/outpost-labs/outpost/lib/wire"
)

// intParam extracts a required integer parameter. CBOR decoding
// produces int64 or uint64 inside any-typed maps; the agent's JSON
// surface produces float64.
func intParam(parameters map[string]any, key string) (int, error) {
	switch v := parameters[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return 0, wire.Errorf(wire.KindInvalidArgument, "missing or non-integer parameter %q", key)
}

// stringParam extracts a required string parameter.
func stringParam(parameters map[string]any, key string) (string, error) {
	if v, ok := parameters[key].(string); ok && v != "" {
		return v, nil
	}
	return "", wire.Errorf(wire.KindInvalidArgument, "missing parameter %q", key)
}

// bytesParam extracts a required byte-payload parameter.
func bytesParam(parameters map[string]any, key string) ([]byte, error) {
	if v, ok := parameters[key].([]byte); ok && len(v) > 0 {
		return v, nil
	}
	return nil, wire.Errorf(wire.KindInvalidArgument, "missing or empty parameter %q", key)
}
