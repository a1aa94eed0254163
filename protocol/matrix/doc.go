// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix implements [protocol.Dialer] on the Matrix
// client-server API.
//
// Each session is one Matrix account. A session with no stored
// credentials registers a fresh account using token-authenticated
// registration (MSC3231) and publishes the account's matrix.to link as
// its pairing code; the session counts as linked once someone invites
// the account into a room. Stored sessions resume from their access
// token and last sync position.
//
// A [Conn] long-polls /sync. Timeline messages become MessagesUpsert
// events, every new sync position becomes a CredentialsUpdate so a
// restart resumes where it left off, and invites are joined
// automatically. Transient failures are retried with backoff inside the
// Conn; anything that invalidates the session closes it with a reason
// derived from the Matrix error code.
package matrix
