// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package credstore

// lockDirectory is a no-op where flock is unavailable; in-process
// ordering still applies.
func lockDirectory(string) (func(), error) {
	return func() {}, nil
}
