// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets switchboard code wait on time without calling the
// time package directly, so that grace periods, settle intervals and
// retry delays can be driven deterministically from tests.
//
// Components hold a Clock field. The process wires [Real]; tests wire
// [Fake] and step it forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	manager, _ := session.NewManager(session.Config{Clock: fake, ...})
//	go manager.Detach(ctx, "acct1")
//	fake.WaitForTimers(1)         // Detach is now parked in its grace wait
//	fake.Advance(2 * time.Second) // release it
//
// WaitForTimers closes the race between a goroutine registering a wait
// and the test advancing past it.
package clock
