// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pairing publishes the pairing codes a protocol endpoint
// issues while a session is waiting to be linked.
//
// A [Sink] receives each code as it arrives. [FileSink] renders the
// code as a QR image in the session's directory, where the HTTP layer
// serves it; [TerminalSink] draws it on an operator terminal. Sink
// failures are logged and never propagate: a session keeps running
// whether or not anyone can see its pairing code.
package pairing
