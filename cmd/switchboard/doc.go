// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Switchboard keeps a set of named Matrix messaging sessions connected.
//
// On startup it loads its config file (--config or SWITCHBOARD_CONFIG),
// reconnects every session found in the credential store, and serves
// the control API. New sessions are created through the API: each one
// registers its own Matrix account and publishes a pairing code, as a
// QR image under the sessions root and on the terminal, until an
// operator opens a chat with it. Inbound messages get an automatic
// acknowledgement unless sessions.auto_reply is off.
//
// SIGINT or SIGTERM stops the API and disconnects every session
// without logging out, so the next start resumes them.
//
// Run with --init-identity PATH once to create an age identity; point
// paths.identity at it to encrypt credentials at rest.
package main
