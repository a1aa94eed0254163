// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

var (
	// ErrNotConnected is returned by Send when the session is not open.
	// Messages are never queued.
	ErrNotConnected = errors.New("session: not connected")

	// ErrSessionNotFound is returned for names the registry does not
	// hold.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrDetached is returned by operations on a session that has been
	// or is being detached.
	ErrDetached = errors.New("session: detached")

	// ErrClosed is returned after Manager.Close.
	ErrClosed = errors.New("session: manager closed")

	// ErrListSessions wraps a credential store failure that stopped
	// Bootstrap before any session was attempted.
	ErrListSessions = errors.New("session: listing stored sessions")
)
