// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/bureau-foundation/switchboard/protocol"

// Policy is the action taken when a session's connection closes.
type Policy int

const (
	// PolicyReconnect reconnects the session immediately.
	PolicyReconnect Policy = iota
	// PolicyStop leaves the session closed. Credentials are kept.
	PolicyStop
	// PolicyRestart waits out the restart grace period and then
	// bootstraps every session again.
	PolicyRestart
)

func (p Policy) String() string {
	switch p {
	case PolicyReconnect:
		return "reconnect"
	case PolicyStop:
		return "stop"
	case PolicyRestart:
		return "restart"
	default:
		return "invalid"
	}
}

// PolicyFor returns the action for a close with the given reason.
func PolicyFor(reason protocol.DisconnectReason) Policy {
	switch reason {
	case protocol.ReasonLoggedOut, protocol.ReasonConnectionReplaced:
		return PolicyStop
	case protocol.ReasonRestartRequired:
		return PolicyRestart
	default:
		return PolicyReconnect
	}
}
