// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// DisconnectReason is the remote-signaled cause of a closed
// connection.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonLoggedOut
	ReasonTimedOut
	ReasonMultideviceMismatch
	ReasonConnectionClosed
	ReasonConnectionReplaced
	ReasonBadSession
	ReasonRestartRequired
)

// Reasons lists every defined reason, ReasonUnknown first.
var Reasons = []DisconnectReason{
	ReasonUnknown,
	ReasonLoggedOut,
	ReasonTimedOut,
	ReasonMultideviceMismatch,
	ReasonConnectionClosed,
	ReasonConnectionReplaced,
	ReasonBadSession,
	ReasonRestartRequired,
}

var reasonNames = map[DisconnectReason]string{
	ReasonUnknown:             "unknown",
	ReasonLoggedOut:           "logged_out",
	ReasonTimedOut:            "timed_out",
	ReasonMultideviceMismatch: "multidevice_mismatch",
	ReasonConnectionClosed:    "connection_closed",
	ReasonConnectionReplaced:  "connection_replaced",
	ReasonBadSession:          "bad_session",
	ReasonRestartRequired:     "restart_required",
}

func (r DisconnectReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// MarshalText encodes the reason by name for JSON status output.
func (r DisconnectReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseDisconnectReason maps a reason name back to its value. Unknown
// names are an error.
func ParseDisconnectReason(name string) (DisconnectReason, error) {
	for reason, candidate := range reasonNames {
		if candidate == name {
			return reason, nil
		}
	}
	return ReasonUnknown, fmt.Errorf("protocol: unknown disconnect reason %q", name)
}

// ReasonFromStatus maps the numeric close codes chat endpoints
// conventionally send to a reason. Codes without a mapping are
// ReasonUnknown.
func ReasonFromStatus(code int) DisconnectReason {
	switch code {
	case 401:
		return ReasonLoggedOut
	case 408:
		return ReasonTimedOut
	case 411:
		return ReasonMultideviceMismatch
	case 428:
		return ReasonConnectionClosed
	case 440:
		return ReasonConnectionReplaced
	case 500:
		return ReasonBadSession
	case 515:
		return ReasonRestartRequired
	default:
		return ReasonUnknown
	}
}
