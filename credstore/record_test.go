// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"errors"
	"testing"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/protocol"
)

func TestRecordCodec(t *testing.T) {
	identity, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	credentials := protocol.Credentials{}.With("access_token", "syt_1").With("next_batch", "s72595_4483")

	for _, test := range []struct {
		name     string
		identity *sealed.Identity
	}{
		{"plain", nil},
		{"sealed", identity},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := recordCodec{identity: test.identity}
			data, err := c.encode(credentials)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			var record envelope
			if err := codec.Unmarshal(data, &record); err != nil {
				t.Fatalf("envelope: %v", err)
			}
			if record.Sealed != (test.identity != nil) {
				t.Errorf("Sealed = %v", record.Sealed)
			}
			decoded, err := c.decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !decoded.Equal(credentials) {
				t.Errorf("decoded %v, want %v", decoded.Keys(), credentials.Keys())
			}
		})
	}
}

func TestRecordCodecRejects(t *testing.T) {
	c := recordCodec{}
	good, err := c.encode(protocol.Credentials{}.With("k", "v"))
	if err != nil {
		t.Fatal(err)
	}

	tamper := func(mutate func(*envelope)) []byte {
		var record envelope
		if err := codec.Unmarshal(good, &record); err != nil {
			t.Fatal(err)
		}
		mutate(&record)
		data, err := codec.Marshal(record)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	for _, test := range []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0xff, 0x00, 0x13}},
		{"digest mismatch", tamper(func(r *envelope) { r.Digest[0] ^= 0xff })},
		{"payload flipped", tamper(func(r *envelope) { r.Payload[len(r.Payload)-1] ^= 0x01 })},
		{"future version", tamper(func(r *envelope) { r.Version = recordVersion + 1 })},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := c.decode(test.data)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("decode error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"alpha", "support-bot", "user@example.com", "a.b_c+d", "A1"} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", ".gitignore", "..", "a/b", `a\b`, "sp ace", string(make([]byte, maxNameLength+1))} {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}
