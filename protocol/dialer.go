// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "context"

// Version identifies the protocol revision negotiated with the remote
// endpoint.
type Version struct {
	// Name is the revision used for this connection, such as "v1.11".
	Name string
	// Supported lists every revision the endpoint advertised.
	Supported []string
}

// DialOptions configures one connection attempt.
type DialOptions struct {
	// Session is the session name, for logging and account naming.
	Session string
	// Credentials is the persisted bundle; empty for a new session.
	Credentials Credentials
	// Version is the result of Dialer.Version for this attempt.
	Version Version
}

// Dialer opens connections to the remote endpoint.
type Dialer interface {
	// Version asks the endpoint which protocol revision to use. It
	// does not retry; an unreachable endpoint is an error.
	Version(ctx context.Context) (Version, error)

	// Dial opens a connection. The returned Conn owns its own
	// goroutines and reports progress through Events; Dial returns
	// once the attempt has been started, not once it is open.
	Dial(ctx context.Context, options DialOptions) (Conn, error)
}

// Conn is one live connection attempt.
type Conn interface {
	// Events delivers notifications in arrival order. The channel is
	// closed after the Conn stops, whether the remote side closed it
	// (a closed ConnectionUpdate precedes the close) or Close was
	// called.
	Events() <-chan Event

	// Send delivers a message and returns its protocol identifier.
	Send(ctx context.Context, message OutgoingMessage) (string, error)

	// Logout revokes this session's identity at the remote endpoint.
	Logout(ctx context.Context) error

	// Close stops the connection without logging out. Idempotent.
	Close() error
}

// Pairer is implemented by a Conn that knows, by the time Dial
// returns, whether its session still has to be linked. PendingPairingCode
// returns the code to publish, or "" when no linking is needed. The
// Conn may still report the same code later through a ConnectionUpdate.
type Pairer interface {
	PendingPairingCode() string
}
