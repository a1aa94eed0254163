// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"crypto/subtle"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/protocol"
)

// recordVersion is the envelope format written by this package.
const recordVersion = 1

// envelope is the stored form of a credential record.
type envelope struct {
	Version int    `cbor:"version"`
	Sealed  bool   `cbor:"sealed"`
	Digest  []byte `cbor:"digest"`
	Payload []byte `cbor:"payload"`
}

// recordCodec converts bundles to and from envelopes. With a nil
// identity records are stored in the clear.
type recordCodec struct {
	identity *sealed.Identity
}

func (c recordCodec) encode(credentials protocol.Credentials) ([]byte, error) {
	payload, err := codec.Marshal(credentials)
	if err != nil {
		return nil, fmt.Errorf("credstore: encoding credentials: %w", err)
	}

	record := envelope{Version: recordVersion}
	if c.identity != nil {
		payload, err = sealed.Seal(payload, c.identity.Recipient())
		if err != nil {
			return nil, fmt.Errorf("credstore: sealing credentials: %w", err)
		}
		record.Sealed = true
	}
	digest := blake3.Sum256(payload)
	record.Digest = digest[:]
	record.Payload = payload

	data, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("credstore: encoding record: %w", err)
	}
	return data, nil
}

func (c recordCodec) decode(data []byte) (protocol.Credentials, error) {
	var record envelope
	if err := codec.Unmarshal(data, &record); err != nil {
		return protocol.Credentials{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if record.Version != recordVersion {
		return protocol.Credentials{}, fmt.Errorf("%w: unsupported record version %d", ErrCorrupt, record.Version)
	}
	digest := blake3.Sum256(record.Payload)
	if subtle.ConstantTimeCompare(digest[:], record.Digest) != 1 {
		return protocol.Credentials{}, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	payload := record.Payload
	if record.Sealed {
		if c.identity == nil {
			return protocol.Credentials{}, fmt.Errorf("credstore: record is sealed but no identity is configured")
		}
		opened, err := sealed.Open(payload, c.identity)
		if err != nil {
			return protocol.Credentials{}, fmt.Errorf("credstore: opening sealed record: %w", err)
		}
		payload = opened
	}

	var credentials protocol.Credentials
	if err := codec.Unmarshal(payload, &credentials); err != nil {
		return protocol.Credentials{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return credentials, nil
}
