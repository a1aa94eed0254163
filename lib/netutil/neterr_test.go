// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsTimeout(t *testing.T) {
	for _, test := range []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context deadline", fmt.Errorf("sync: %w", context.DeadlineExceeded), true},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutError{}}, true},
		{"errno", fmt.Errorf("dial: %w", syscall.ETIMEDOUT), true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTimeout(test.err); got != test.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}

func TestIsConnectionDrop(t *testing.T) {
	for _, test := range []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", fmt.Errorf("reading: %w", io.EOF), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"closed", net.ErrClosed, true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"timeout", timeoutError{}, false},
		{"plain", errors.New("boom"), false},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := IsConnectionDrop(test.err); got != test.want {
				t.Errorf("IsConnectionDrop(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
