// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts credential records at rest with age.
//
// The credential store seals each record payload to the recipient of
// an x25519 identity loaded from an identity file, and opens it again
// with that identity. Ciphertext is raw age binary format: records live
// in files and redis values, never in JSON, so there is no base64
// layer.
//
// The identity file uses the standard age format, so the same file
// works with the age command-line tool:
//
//	age -d -i /etc/switchboard/identity.age < credentials.payload
package sealed
