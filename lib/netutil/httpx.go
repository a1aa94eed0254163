// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O and network error helpers.
//
// ReadResponse bounds every body read at MaxResponseSize so a
// misbehaving homeserver cannot make a session allocate without limit.
// It is for JSON API responses, not streaming bodies.
//
// Error helpers (IsTimeout, IsConnectionDrop) sort transport failures so
// callers can tell a slow peer from a vanished one.
package netutil

import "io"

// MaxResponseSize bounds JSON API response reads: 64 MB. A /sync
// response after a long absence is the largest thing switchboard reads
// and stays far below this.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll for HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
