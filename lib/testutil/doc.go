// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wall-clock safety valves for switchboard
// tests. Tests synchronize on channels and on lib/clock's FakeClock;
// the helpers here bound those channel operations so that a bug shows
// up as a test failure instead of a hung test binary.
//
// This package has no switchboard-internal dependencies.
package testutil
