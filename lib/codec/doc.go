// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds switchboard's CBOR configuration.
//
// JSON is used where an outside party reads the bytes (the HTTP API,
// the Matrix client-server API). CBOR is used for state switchboard
// writes for itself, chiefly the credential records under the
// sessions root. Encoding follows RFC 8949 §4.2 Core Deterministic
// Encoding, so the same value always produces the same bytes and a
// digest over an encoded payload is stable.
//
// Types that are only ever stored as CBOR carry `cbor` struct tags.
package codec
