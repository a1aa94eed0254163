// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "time"

// ConnectionState is the lifecycle state a Conn reports.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// MarshalText encodes the state by name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is one asynchronous notification from a Conn. The set of
// implementations is closed: ConnectionUpdate, CredentialsUpdate and
// MessagesUpsert. Consumers switch on the concrete type.
type Event interface {
	isEvent()
}

// ConnectionUpdate reports a lifecycle change. PairingCode is set when
// the remote endpoint issues a one-time code for linking this session;
// it may accompany any state. Reason is meaningful only when State is
// StateClosed.
type ConnectionUpdate struct {
	State       ConnectionState
	Reason      DisconnectReason
	PairingCode string
	// Err is the underlying failure behind a close, for logging.
	Err error
}

// CredentialsUpdate carries a complete replacement credential bundle
// that must be persisted before it is relied on.
type CredentialsUpdate struct {
	Credentials Credentials
}

// MessagesUpsert carries newly arrived messages in arrival order.
type MessagesUpsert struct {
	Messages []Message
}

func (ConnectionUpdate) isEvent()  {}
func (CredentialsUpdate) isEvent() {}
func (MessagesUpsert) isEvent()    {}

// Message is one inbound message.
type Message struct {
	// ID is the protocol's identifier for the message.
	ID string `json:"id"`
	// Chat identifies the conversation; replies go back to it.
	Chat string `json:"chat"`
	// Sender identifies the author.
	Sender string `json:"sender"`
	// SenderName is the author's display name, when known.
	SenderName string `json:"sender_name,omitempty"`
	// FromMe is true when this session authored the message.
	FromMe bool `json:"from_me"`
	// Body is the plain-text content.
	Body string `json:"body"`
	// Raw is the protocol-native encoding of the message.
	Raw []byte `json:"-"`
	// Timestamp is when the endpoint accepted the message.
	Timestamp time.Time `json:"timestamp"`
}

// OutgoingMessage is a message to send.
type OutgoingMessage struct {
	Chat string `json:"chat"`
	Body string `json:"body"`
}
