// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// T is the subset of testing.TB the helpers need.
type T interface {
	Helper()
	Fatalf(format string, args ...any)
}

// DefaultTimeout bounds channel waits in tests that do not pick their
// own limit.
const DefaultTimeout = 5 * time.Second

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed.
func RequireReceive[V any](t T, ch <-chan V, timeout time.Duration, context ...any) V {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed: %s", describe(context))
		}
		return value
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v: %s", timeout, describe(context))
	}
	panic("unreachable")
}

// RequireNoReceive fails the test if ch yields a value within window.
// Use it only after the code under test has reached a synchronization
// point, so the window is a confirmation rather than a guess.
func RequireNoReceive[V any](t T, ch <-chan V, window time.Duration, context ...any) {
	t.Helper()
	select {
	case value, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %v: %s", value, describe(context))
		}
	case <-time.After(window): //nolint:realclock test hang prevention
	}
}

// RequireClosed waits for ch to close, failing the test after timeout.
func RequireClosed(t T, ch <-chan struct{}, timeout time.Duration, context ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v waiting for close: %s", timeout, describe(context))
	}
}

func describe(context []any) string {
	switch {
	case len(context) == 0:
		return "(no message)"
	case len(context) == 1:
		return fmt.Sprint(context[0])
	}
	if format, ok := context[0].(string); ok {
		return fmt.Sprintf(format, context[1:]...)
	}
	return fmt.Sprint(context...)
}
