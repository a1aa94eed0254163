// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/protocol"
)

func TestPolicyFor(t *testing.T) {
	want := map[protocol.DisconnectReason]Policy{
		protocol.ReasonLoggedOut:           PolicyStop,
		protocol.ReasonConnectionReplaced:  PolicyStop,
		protocol.ReasonRestartRequired:     PolicyRestart,
		protocol.ReasonTimedOut:            PolicyReconnect,
		protocol.ReasonMultideviceMismatch: PolicyReconnect,
		protocol.ReasonConnectionClosed:    PolicyReconnect,
		protocol.ReasonBadSession:          PolicyReconnect,
		protocol.ReasonUnknown:             PolicyReconnect,
	}
	for _, reason := range protocol.Reasons {
		if got := PolicyFor(reason); got != want[reason] {
			t.Errorf("PolicyFor(%s) = %s, want %s", reason, got, want[reason])
		}
	}
	if got := PolicyFor(protocol.ReasonUnknown); got != PolicyReconnect {
		t.Errorf("PolicyFor(unknown) = %s, want reconnect", got)
	}
}

// Each close reason produces exactly its policy's action: no
// reconnect, a reconnect of this session only, or a bootstrap after
// the restart grace period.
func TestDisconnectPolicy(t *testing.T) {
	const grace = 4 * time.Second
	for _, reason := range protocol.Reasons {
		t.Run(reason.String(), func(t *testing.T) {
			h := newHarness(t, func(config *Config) { config.RestartGrace = grace })
			restarts := make(chan struct{}, 4)
			h.manager.restart = func(context.Context) error {
				restarts <- struct{}{}
				return nil
			}

			conn := h.open(t, "alpha")
			bystander := h.open(t, "beta")
			conn.Disconnect(reason)
			h.waitState(t, "alpha", StateClosed)
			if got := mustGet(t, h, "alpha").Reason(); got != reason {
				t.Errorf("Reason = %s, want %s", got, reason)
			}

			switch PolicyFor(reason) {
			case PolicyStop:
				testutil.RequireNoReceive(t, h.dialer.Dialed(), quiet, "stop policy redialed")
				testutil.RequireNoReceive(t, restarts, quiet, "stop policy restarted")

			case PolicyReconnect:
				next := h.nextConn(t, "alpha")
				if next == conn {
					t.Fatal("reconnect reused the closed conn")
				}
				if h.clock.PendingCount() != 0 {
					t.Error("immediate reconnect left a timer pending")
				}
				testutil.RequireNoReceive(t, restarts, quiet, "reconnect policy restarted")

			case PolicyRestart:
				h.clock.WaitForTimers(1)
				testutil.RequireNoReceive(t, restarts, quiet, "restart ran before the grace period")
				testutil.RequireNoReceive(t, h.dialer.Dialed(), quiet, "restart policy redialed directly")
				h.clock.Advance(grace)
				testutil.RequireReceive(t, restarts, testutil.DefaultTimeout, "restart after grace")
			}

			if h.dialer.DialCount("beta") != 1 || bystander.IsClosed() {
				t.Error("another session's close disturbed beta")
			}
		})
	}
}

func TestRestartRequiredBootstrapsEverySession(t *testing.T) {
	const grace = 3 * time.Second
	h := newHarness(t, func(config *Config) { config.RestartGrace = grace })
	bootstraps := make(chan error, 4)
	h.manager.restart = func(ctx context.Context) error {
		err := h.manager.Bootstrap(ctx)
		bootstraps <- err
		return err
	}

	for _, name := range []string{"acct1", "acct2"} {
		if err := os.Mkdir(h.files.Dir(name), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.manager.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		conn := testutil.RequireReceive(t, h.dialer.Dialed(), testutil.DefaultTimeout, "initial dial")
		conn.Open()
	}
	h.waitState(t, "acct1", StateOpen)
	h.waitState(t, "acct2", StateOpen)
	first := h.dialer.LiveConns("acct1")[0]

	first.Disconnect(protocol.ReasonRestartRequired)
	h.clock.WaitForTimers(1)
	if lists := h.store.lists.Load(); lists != 1 {
		t.Fatalf("store listed %d times before the grace period, want 1", lists)
	}

	h.clock.Advance(grace)
	if err := testutil.RequireReceive(t, bootstraps, testutil.DefaultTimeout, "bootstrap after grace"); err != nil {
		t.Errorf("restart bootstrap: %v", err)
	}
	if lists := h.store.lists.Load(); lists != 2 {
		t.Errorf("store listed %d times, want 2 (bootstrap re-ran)", lists)
	}

	// The disconnected session is redialed; the open one is left alone.
	h.nextConn(t, "acct1")
	if count := h.dialer.DialCount("acct1"); count != 2 {
		t.Errorf("acct1 dialed %d times, want 2", count)
	}
	if count := h.dialer.DialCount("acct2"); count != 1 {
		t.Errorf("acct2 dialed %d times, want 1", count)
	}
}

func TestReconnectRetriesAfterInterval(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.RetryInterval = 7 * time.Second })
	conn := h.open(t, "alpha")

	refused := errors.New("connection refused")
	h.dialer.SetDialError(refused)
	conn.Disconnect(protocol.ReasonConnectionClosed)

	// The immediate attempt fails, then the task waits.
	h.clock.WaitForTimers(1)
	if count := h.dialer.DialCount("alpha"); count != 2 {
		t.Fatalf("alpha dialed %d times, want 2 (initial + failed reconnect)", count)
	}

	// A second failure schedules another wait.
	h.clock.Advance(7 * time.Second)
	eventually(t, func() bool { return h.dialer.DialCount("alpha") == 3 }, "no retry after interval")
	h.clock.WaitForTimers(1)

	h.dialer.SetDialError(nil)
	h.clock.Advance(7 * time.Second)
	next := h.nextConn(t, "alpha")
	next.Open()
	h.waitState(t, "alpha", StateOpen)
	if attempts := mustGet(t, h, "alpha").Status().Attempts; attempts != 4 {
		t.Errorf("Attempts = %d, want 4", attempts)
	}
}

func TestReconnectStopsOnDetach(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, "alpha")
	h.dialer.SetDialError(errors.New("down"))
	conn.Disconnect(protocol.ReasonTimedOut)
	h.clock.WaitForTimers(1)

	if err := h.manager.Detach(context.Background(), "alpha"); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	dials := h.dialer.DialCount("alpha")
	h.clock.Advance(time.Hour)
	testutil.RequireNoReceive(t, h.dialer.Dialed(), quiet, "reconnect after Detach")
	if h.dialer.DialCount("alpha") != dials {
		t.Error("retry task dialed after Detach")
	}
}

func TestCredentialsUpdatePersists(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	conn := h.connect(t, "alpha")

	for i := range 5 {
		conn.UpdateCredentials(protocol.Credentials{}.
			With("access_token", "syt_token").
			With("next_batch", fmt.Sprintf("s%d", i)))
	}
	eventually(t, func() bool {
		stored, err := h.files.Load(ctx, "alpha")
		return err == nil && stored.Get("next_batch") == "s4"
	}, "latest credentials never stored")

	if got := mustGet(t, h, "alpha").Credentials().Get("next_batch"); got != "s4" {
		t.Errorf("in-memory next_batch = %q, want s4", got)
	}
}

func TestAutoReply(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.open(t, "alpha")

	conn.Deliver(
		protocol.Message{ID: "1", Chat: "!a:example.org", Sender: "@me:example.org", FromMe: true, Body: "mine"},
		protocol.Message{ID: "2", Chat: "!a:example.org", Sender: "@ann:example.org", SenderName: "Ann", Body: "hi", Raw: []byte(`{"body":"hi"}`)},
		protocol.Message{ID: "3", Chat: "!b:example.org", Sender: "@bob:example.org", Body: "yo"},
	)
	conn.Deliver(protocol.Message{ID: "4", Chat: "!a:example.org", Sender: "@me:example.org", FromMe: true, Body: "also mine"})
	h.barrier(t, conn, "after-messages")

	sent := conn.SentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent %d replies, want 2: %+v", len(sent), sent)
	}
	if sent[0].Chat != "!a:example.org" || sent[0].Body != `Hello Ann, I received: {"body":"hi"}` {
		t.Errorf("first reply = %+v", sent[0])
	}
	if sent[1].Chat != "!b:example.org" || sent[1].Body != "Hello @bob:example.org, I received: yo" {
		t.Errorf("second reply = %+v", sent[1])
	}
}

func TestAutoReplyDisabled(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.DisableAutoReply = true })
	conn := h.open(t, "alpha")
	conn.Deliver(protocol.Message{ID: "1", Chat: "!a:example.org", Sender: "@ann:example.org", Body: "hi"})
	h.barrier(t, conn, "done")
	if sent := conn.SentMessages(); len(sent) != 0 {
		t.Errorf("sent %d replies with auto-reply disabled", len(sent))
	}
}

func TestPairingLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.connect(t, "alpha")

	conn.Pair("https://matrix.to/#/@alpha:example.org")
	if name := testutil.RequireReceive(t, h.sink.emitted, testutil.DefaultTimeout, "emit"); name != "alpha" {
		t.Errorf("emitted for %q", name)
	}
	if code := mustGet(t, h, "alpha").PairingCode(); code == "" {
		t.Error("pairing code not recorded")
	}

	conn.Open()
	h.waitState(t, "alpha", StateOpen)
	if code := h.sink.code("alpha"); code != "" {
		t.Errorf("sink still holds %q after open", code)
	}
	if mustGet(t, h, "alpha").Status().PairingPending {
		t.Error("pairing still pending after open")
	}
}

func TestPairingCodeKnownAtDial(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.PairOnDial = "pair:"

	connection, err := h.manager.Connect(context.Background(), "alpha")
	if err != nil {
		t.Fatal(err)
	}
	// Published before Connect returned, not by the dispatcher.
	if !connection.Status().PairingPending {
		t.Error("pairing not pending when Connect returned")
	}
	if code := h.sink.code("alpha"); code != "pair:alpha" {
		t.Errorf("sink code = %q, want pair:alpha", code)
	}
	testutil.RequireReceive(t, h.sink.emitted, testutil.DefaultTimeout, "emit")
	conn := h.nextConn(t, "alpha")

	// The same code arriving as an event is not published twice.
	conn.Pair("pair:alpha")
	h.barrier(t, conn, "paired")
	testutil.RequireNoReceive(t, h.sink.emitted, 50*time.Millisecond, "second emit")

	conn.Open()
	h.waitState(t, "alpha", StateOpen)
	if connection.Status().PairingPending {
		t.Error("pairing still pending after open")
	}
}

func TestSupersededConnIgnored(t *testing.T) {
	h := newHarness(t, nil)
	old := h.open(t, "alpha")
	old.Disconnect(protocol.ReasonTimedOut)
	current := h.nextConn(t, "alpha")
	current.Open()
	h.waitState(t, "alpha", StateOpen)

	// Events the old conn never got to deliver stay dropped.
	if old.Push(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: protocol.ReasonLoggedOut}) {
		t.Error("old conn accepted an event after disconnecting")
	}
	h.barrier(t, current, "current")
	if state := mustGet(t, h, "alpha").State(); state != StateOpen {
		t.Errorf("state = %s, want open", state)
	}
}

func TestTemplateReply(t *testing.T) {
	reply, err := TemplateReply("{{.SenderName}} in {{.Chat}}: {{.Body}}")
	if err != nil {
		t.Fatal(err)
	}
	got, err := reply(protocol.Message{Chat: "!a", Sender: "@ann", Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "@ann in !a: hi" {
		t.Errorf("reply = %q", got)
	}

	if _, err := TemplateReply("{{.Unclosed"); err == nil {
		t.Error("TemplateReply accepted a malformed template")
	}
	bad, err := TemplateReply("{{.Missing}}")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bad(protocol.Message{}); err == nil {
		t.Error("template referencing an unknown field succeeded")
	}
}

func mustGet(t *testing.T, h *harness, name string) *Connection {
	t.Helper()
	connection, ok := h.manager.Get(name)
	if !ok {
		t.Fatalf("session %q not registered", name)
	}
	return connection
}
