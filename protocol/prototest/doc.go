// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package prototest provides an in-memory [protocol.Dialer] for tests.
//
// Every Dial returns a [Conn] whose events the test pushes by hand and
// whose sends, logouts and closes are recorded. Tests wait for dials
// on [Dialer.Dialed] rather than polling, and script failures with
// [Dialer.SetVersionError], [Dialer.SetDialError] and
// [Dialer.FailSession].
package prototest
