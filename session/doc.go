// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session supervises many concurrent protocol connections, one
// per named session.
//
// A [Manager] is the registry: it owns one [Connection] per name and
// is constructed once by the process that serves it. [Manager.Bootstrap]
// connects every session the credential store knows about;
// [Manager.Connect] adds one on demand; [Manager.Detach] is the only
// way a session's identity is permanently discarded.
//
// Each Connection is a small state machine (connecting, open, closed)
// driven by the events of its current [protocol.Conn]. One dispatch
// goroutine per Conn consumes events in arrival order:
//
//   - pairing codes go to the [pairing.Sink] as they arrive
//   - credential updates are written to the [credstore.Store] at once
//   - inbound messages not authored by the session get one automatic
//     reply each
//   - a close is resolved by [PolicyFor]: stop, reconnect this session,
//     or wait out a grace period and bootstrap every session again
//
// Reconnects run as a scheduled task per Connection rather than from
// inside the event handler, so at most one attempt is in flight and a
// failed attempt is retried after a fixed interval. Connecting a
// session that already has a live Conn is a no-op, which makes
// Bootstrap safe to re-run at any time.
//
// All waits go through an injected [clock.Clock] so tests can drive
// grace periods and retries deterministically.
package session
