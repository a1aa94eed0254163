// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/switchboard/credstore"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/testutil"
	"github.com/bureau-foundation/switchboard/protocol"
	"github.com/bureau-foundation/switchboard/protocol/prototest"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store   *countingStore
	files   *credstore.FileStore
	dialer  *prototest.Dialer
	clock   *clock.FakeClock
	sink    *recordingSink
	manager *Manager
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	files, err := credstore.NewFileStore(credstore.FileStoreConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	h := &harness{
		store:  &countingStore{Store: files},
		files:  files,
		dialer: prototest.NewDialer(),
		clock:  clock.Fake(epoch),
		sink:   newRecordingSink(),
	}
	config := Config{
		Store:         h.store,
		Dialer:        h.dialer,
		Sink:          h.sink,
		Clock:         h.clock,
		RetryInterval: 10 * time.Second,
	}
	if configure != nil {
		configure(&config)
	}
	h.manager, err = NewManager(config)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { h.manager.Close() })
	return h
}

// connect connects name and returns the Conn it dialed.
func (h *harness) connect(t *testing.T, name string) *prototest.Conn {
	t.Helper()
	if _, err := h.manager.Connect(context.Background(), name); err != nil {
		t.Fatalf("Connect(%q): %v", name, err)
	}
	return h.nextConn(t, name)
}

// nextConn waits for the next dialed Conn and checks it is for name.
func (h *harness) nextConn(t *testing.T, name string) *prototest.Conn {
	t.Helper()
	conn := testutil.RequireReceive(t, h.dialer.Dialed(), testutil.DefaultTimeout, "waiting for %s to dial", name)
	if conn.Session() != name {
		t.Fatalf("dialed %q, want %q", conn.Session(), name)
	}
	return conn
}

// open connects name and waits for it to report StateOpen.
func (h *harness) open(t *testing.T, name string) *prototest.Conn {
	t.Helper()
	conn := h.connect(t, name)
	conn.Open()
	h.waitState(t, name, StateOpen)
	return conn
}

func (h *harness) waitState(t *testing.T, name string, want State) {
	t.Helper()
	eventually(t, func() bool {
		connection, ok := h.manager.Get(name)
		return ok && connection.State() == want
	}, "%s never reached state %s", name, want)
}

// barrier pushes a credentials update through conn and waits until it
// is stored. Dispatch is sequential, so every event pushed before the
// barrier has been handled once it returns.
func (h *harness) barrier(t *testing.T, conn *prototest.Conn, marker string) {
	t.Helper()
	conn.UpdateCredentials(protocol.Credentials{}.With("barrier", marker))
	eventually(t, func() bool {
		stored, err := h.files.Load(context.Background(), conn.Session())
		return err == nil && stored.Get("barrier") == marker
	}, "barrier %q never stored for %s", marker, conn.Session())
}

func eventually(t *testing.T, condition func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(testutil.DefaultTimeout) //nolint:realclock test hang prevention
	for !condition() {
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatalf(format, args...)
		}
		time.Sleep(time.Millisecond) //nolint:realclock polling real goroutines
	}
}

type countingStore struct {
	credstore.Store
	lists atomic.Int32
}

func (s *countingStore) List(ctx context.Context) ([]string, error) {
	s.lists.Add(1)
	return s.Store.List(ctx)
}

type recordingSink struct {
	mu      sync.Mutex
	codes   map[string]string
	emitted chan string
	cleared chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		codes:   make(map[string]string),
		emitted: make(chan string, 64),
		cleared: make(chan string, 64),
	}
}

func (s *recordingSink) Emit(name, code string) {
	s.mu.Lock()
	s.codes[name] = code
	s.mu.Unlock()
	s.emitted <- name
}

func (s *recordingSink) Clear(name string) {
	s.mu.Lock()
	delete(s.codes, name)
	s.mu.Unlock()
	select {
	case s.cleared <- name:
	default:
	}
}

func (s *recordingSink) code(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[name]
}
