// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol is the boundary between switchboard and the chat
// protocol it speaks. The session manager only sees the types here: a
// [Dialer] that negotiates a version and opens a [Conn], and the
// closed [Event] union a Conn delivers.
//
// A Conn reports everything asynchronous as events on a single
// channel: connection lifecycle ([ConnectionUpdate], including
// disconnect reasons and pairing codes), identity material that must
// be persisted ([CredentialsUpdate]), and inbound messages
// ([MessagesUpsert]). Disconnects are data, not errors: a Conn that
// loses its link sends a closed ConnectionUpdate carrying a
// [DisconnectReason] and then closes its event channel.
//
// The concrete Matrix implementation lives in protocol/matrix; a
// scriptable in-memory implementation for tests lives in
// protocol/prototest.
package protocol
