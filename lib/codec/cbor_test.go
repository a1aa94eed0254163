// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type record struct {
	Version int               `cbor:"version"`
	Entries map[string][]byte `cbor:"entries"`
}

func TestMarshalIsDeterministicAcrossMapOrder(t *testing.T) {
	// Build the same logical map twice with different insertion
	// orders; Go map iteration is randomized, so repeated encodes
	// would diverge without canonical key sorting.
	first := record{Version: 1, Entries: map[string][]byte{}}
	second := record{Version: 1, Entries: map[string][]byte{}}
	keys := []string{"user_id", "device_id", "access_token", "next_batch", "homeserver"}
	for _, key := range keys {
		first.Entries[key] = []byte("value-" + key)
	}
	for index := len(keys) - 1; index >= 0; index-- {
		second.Entries[keys[index]] = []byte("value-" + keys[index])
	}

	for attempt := 0; attempt < 20; attempt++ {
		a, err := Marshal(first)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		b, err := Marshal(second)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("encodings differ:\n%x\n%x", a, b)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type wider struct {
		Version int    `cbor:"version"`
		Extra   string `cbor:"extra"`
	}
	data, err := Marshal(wider{Version: 3, Extra: "ignored"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Version != 3 {
		t.Errorf("Version = %d, want 3", decoded.Version)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"state": "open"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if asMap["state"] != "open" {
		t.Errorf("state = %v", asMap["state"])
	}
}
