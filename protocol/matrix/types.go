// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import "encoding/json"

// VersionsResponse is returned by GET /_matrix/client/versions.
type VersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// AuthResponse is returned by registration and login.
type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// RegisterRequest holds the parameters for token-authenticated
// registration.
type RegisterRequest struct {
	Username          string
	Password          string
	RegistrationToken string
	DeviceName        string
}

// WhoAmIResponse is returned by GET /account/whoami.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// SyncOptions controls a /sync request.
type SyncOptions struct {
	// Since is the previous next_batch; empty for an initial sync.
	Since string
	// TimeoutMillis is the long-poll wait. Zero returns immediately.
	TimeoutMillis int
}

// SyncResponse is the subset of a /sync response switchboard reads.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups rooms by membership.
type RoomsSection struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
}

// JoinedRoom holds sync data for a joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom holds sync data for a pending invite.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// TimelineSection holds timeline events.
type TimelineSection struct {
	Events  []Event `json:"events"`
	Limited bool    `json:"limited,omitempty"`
}

// StateSection holds state events.
type StateSection struct {
	Events []Event `json:"events"`
}

// Event is a Matrix event. Content stays raw so the exact payload can
// be handed on.
type Event struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	StateKey       *string         `json:"state_key,omitempty"`
}

// Event types switchboard reads.
const (
	EventTypeMessage = "m.room.message"
	EventTypeMember  = "m.room.member"
)

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// memberContent is the content of an m.room.member event.
type memberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
}

// sendResponse is returned when sending an event.
type sendResponse struct {
	EventID string `json:"event_id"`
}
