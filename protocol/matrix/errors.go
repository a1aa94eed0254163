// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/switchboard/lib/netutil"
	"github.com/bureau-foundation/switchboard/protocol"
)

// Error is a structured error response from the homeserver. Use
// errors.As to inspect it:
//
//	var matrixErr *matrix.Error
//	if errors.As(err, &matrixErr) && matrixErr.Code == matrix.ErrCodeUnknownToken { ... }
type Error struct {
	// Code is the Matrix error code, such as "M_FORBIDDEN".
	Code string `json:"errcode"`
	// Message is the server's human-readable description.
	Message string `json:"error"`
	// SoftLogout is set on M_UNKNOWN_TOKEN when the device may log in
	// again without losing its identity.
	SoftLogout bool `json:"soft_logout,omitempty"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Matrix error codes switchboard acts on.
const (
	ErrCodeForbidden       = "M_FORBIDDEN"
	ErrCodeUnknownToken    = "M_UNKNOWN_TOKEN"
	ErrCodeUserDeactivated = "M_USER_DEACTIVATED"
	ErrCodeUnknownPos      = "M_UNKNOWN_POS"
	ErrCodeLimitExceeded   = "M_LIMIT_EXCEEDED"
	ErrCodeUserInUse       = "M_USER_IN_USE"
	ErrCodeNotFound        = "M_NOT_FOUND"
	ErrCodeUnknown         = "M_UNKNOWN"
)

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var matrixErr *Error
	return errors.As(err, &matrixErr) && matrixErr.Code == code
}

// errDeviceMismatch is reported when the access token belongs to a
// different device than the one the session registered.
var errDeviceMismatch = errors.New("matrix: access token belongs to another device")

// Classify maps a failure to the disconnect reason it implies.
func Classify(err error) protocol.DisconnectReason {
	if errors.Is(err, errDeviceMismatch) {
		return protocol.ReasonMultideviceMismatch
	}
	var matrixErr *Error
	if errors.As(err, &matrixErr) {
		switch matrixErr.Code {
		case ErrCodeUnknownToken:
			if matrixErr.SoftLogout {
				return protocol.ReasonBadSession
			}
			return protocol.ReasonLoggedOut
		case ErrCodeUserDeactivated:
			return protocol.ReasonLoggedOut
		case ErrCodeForbidden:
			return protocol.ReasonBadSession
		case ErrCodeUnknownPos:
			return protocol.ReasonRestartRequired
		}
		return protocol.ReasonConnectionClosed
	}
	if netutil.IsTimeout(err) {
		return protocol.ReasonTimedOut
	}
	return protocol.ReasonConnectionClosed
}

// transient reports whether a sync failure is worth retrying inside
// the Conn before giving up on it.
func transient(err error) bool {
	var matrixErr *Error
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == ErrCodeLimitExceeded ||
			matrixErr.StatusCode == http.StatusTooManyRequests ||
			matrixErr.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, errDeviceMismatch) {
		return false
	}
	return netutil.IsTimeout(err) || netutil.IsConnectionDrop(err)
}
