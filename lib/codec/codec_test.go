// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshal_Deterministic(t *testing.T) {
	// Map iteration order is randomized in Go; deterministic encoding
	// must still produce identical bytes on every call.
	value := map[string]string{
		"session_id": "abc123",
		"auth_token": "xyz789",
		"csrf":       "tok",
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("Marshal() is not deterministic: %x != %x", first, again)
		}
	}
}

func TestUnmarshal_AnyMapType(t *testing.T) {
	encoded, err := Marshal(map[string]any{"name": "value"})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["name"] != "value" {
		t.Errorf("decoded[name] = %v, want value", asMap["name"])
	}
}

func TestUnmarshal_UnknownFieldsIgnored(t *testing.T) {
	type v1 struct {
		Name  string `cbor:"1,keyasint"`
		Extra string `cbor:"2,keyasint"`
	}
	type v0 struct {
		Name string `cbor:"1,keyasint"`
	}

	encoded, err := Marshal(v1{Name: "agent", Extra: "future field"})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded v0
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded.Name != "agent" {
		t.Errorf("Name = %q, want agent", decoded.Name)
	}
}
