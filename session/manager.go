// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/credstore"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/pairing"
	"github.com/bureau-foundation/switchboard/protocol"
)

// DefaultRetryInterval is the wait between failed reconnect attempts
// when Config.RetryInterval is not set.
const DefaultRetryInterval = 5 * time.Second

// Config configures a Manager.
type Config struct {
	// Store holds session credentials. Required.
	Store credstore.Store

	// Dialer opens protocol connections. Required.
	Dialer protocol.Dialer

	// Sink receives pairing codes. Defaults to pairing.Discard.
	Sink pairing.Sink

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// SettleInterval is how long Bootstrap waits after every session
	// has been dialed, giving connections time to finish their own
	// asynchronous setup. Zero means no wait.
	SettleInterval time.Duration

	// RestartGrace is the wait between a restart-required close and
	// the bootstrap it triggers. Zero means no wait.
	RestartGrace time.Duration

	// DetachGrace is the wait at the start of every Detach. Zero
	// means no wait.
	DetachGrace time.Duration

	// RetryInterval is the wait between failed reconnect attempts.
	// Defaults to DefaultRetryInterval.
	RetryInterval time.Duration

	// DisableAutoReply turns off automatic replies to inbound
	// messages.
	DisableAutoReply bool

	// Reply builds automatic replies. Defaults to DefaultReply.
	Reply ReplyFunc
}

// Manager is the session registry. Construct one per process with
// NewManager and share it; it holds at most one Connection per name.
type Manager struct {
	config Config
	store  credstore.Store
	dialer protocol.Dialer
	sink   pairing.Sink
	clock  clock.Clock
	logger *slog.Logger
	reply  ReplyFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Connection
	closed   bool

	// detached holds names detached since their last explicit
	// Connect. Bootstrap skips them so that a listing taken before a
	// detach cannot bring the name back.
	detached map[string]struct{}

	// restart runs when a session closes with restart required.
	// Bootstrap outside tests.
	restart func(ctx context.Context) error
}

// NewManager creates an empty Manager. Call Bootstrap to connect the
// sessions already in the store.
func NewManager(config Config) (*Manager, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("session: Store is required")
	}
	if config.Dialer == nil {
		return nil, fmt.Errorf("session: Dialer is required")
	}
	if config.Sink == nil {
		config.Sink = pairing.Discard
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	reply := config.Reply
	if reply == nil {
		reply = DefaultReply
	}
	if config.DisableAutoReply {
		reply = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := &Manager{
		config:   config,
		store:    config.Store,
		dialer:   config.Dialer,
		sink:     config.Sink,
		clock:    config.Clock,
		logger:   config.Logger,
		reply:    reply,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Connection),
		detached: make(map[string]struct{}),
	}
	manager.restart = manager.Bootstrap
	return manager, nil
}

// Bootstrap connects every session in the store concurrently, waits
// for all attempts, then waits SettleInterval. A session that fails to
// connect stays registered in StateClosed; its error is included in
// the joined error returned after every session was attempted. Only a
// failure to list the store aborts early.
//
// Bootstrap is idempotent: sessions with a live connection are left
// alone.
func (m *Manager) Bootstrap(ctx context.Context) error {
	names, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListSessions, err)
	}
	m.logger.Info("bootstrapping sessions", "count", len(names))

	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.resume(ctx, name); err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	wg.Wait()

	if interval := m.config.SettleInterval; interval > 0 {
		select {
		case <-m.clock.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	joined := errors.Join(errs...)
	if joined != nil {
		m.logger.Warn("bootstrap finished with failures", "error", joined)
	} else {
		m.logger.Info("bootstrap finished", "count", len(names))
	}
	return joined
}

// Connect registers name if it is new and connects it unless it
// already has a live connection. A new name starts with an empty
// credential bundle.
func (m *Manager) Connect(ctx context.Context, name string) (*Connection, error) {
	if err := credstore.ValidateName(name); err != nil {
		return nil, err
	}
	connection, err := m.entry(name, true)
	if err != nil {
		return nil, err
	}
	if err := connection.connect(ctx); err != nil {
		return nil, err
	}
	return connection, nil
}

// resume connects a stored session for Bootstrap. Names detached
// after the store was listed are skipped.
func (m *Manager) resume(ctx context.Context, name string) error {
	if err := credstore.ValidateName(name); err != nil {
		return err
	}
	connection, err := m.entry(name, false)
	if err != nil {
		return err
	}
	if connection == nil {
		m.logger.Info("skipping detached session", "session", name)
		return nil
	}
	err = connection.connect(ctx)
	if errors.Is(err, ErrDetached) {
		m.logger.Info("skipping detached session", "session", name)
		return nil
	}
	return err
}

// entry returns name's Connection, registering it if needed. An
// explicit entry clears a detached mark; otherwise a detached name
// yields nil.
func (m *Manager) entry(name string, explicit bool) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, gone := m.detached[name]; gone {
		if !explicit {
			return nil, nil
		}
		delete(m.detached, name)
	}
	connection, ok := m.sessions[name]
	if !ok {
		connection = newConnection(m, name)
		m.sessions[name] = connection
	}
	return connection, nil
}

// Get returns the registered Connection for name. Membership says
// nothing about whether it is open.
func (m *Manager) Get(name string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	connection, ok := m.sessions[name]
	return connection, ok
}

// Names returns the registered session names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Status returns a snapshot of the named session.
func (m *Manager) Status(name string) (Status, bool) {
	connection, ok := m.Get(name)
	if !ok {
		return Status{}, false
	}
	return connection.Status(), true
}

// Statuses returns a snapshot of every registered session, sorted by
// name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	connections := make([]*Connection, 0, len(m.sessions))
	for _, connection := range m.sessions {
		connections = append(connections, connection)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(connections))
	for _, connection := range connections {
		statuses = append(statuses, connection.Status())
	}
	slices.SortFunc(statuses, func(a, b Status) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return statuses
}

// Send delivers message through the named session.
func (m *Manager) Send(ctx context.Context, name string, message protocol.OutgoingMessage) (string, error) {
	connection, ok := m.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return connection.Send(ctx, message)
}

// Detach permanently ends the named session: after the detach grace
// period (and any restart already pending for it) it logs out, stops
// the connection, deletes the stored credentials and pairing image and
// removes the session from the registry. Connecting the name again
// afterwards starts a brand-new session.
func (m *Manager) Detach(ctx context.Context, name string) error {
	connection, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	stopped, err := connection.detach(ctx)
	if !stopped {
		return err
	}

	m.mu.Lock()
	if m.sessions[name] == connection {
		delete(m.sessions, name)
		m.detached[name] = struct{}{}
	}
	m.mu.Unlock()
	return err
}

// Close stops every session without logging out or deleting
// credentials, for process shutdown. The Manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	connections := make([]*Connection, 0, len(m.sessions))
	for _, connection := range m.sessions {
		connections = append(connections, connection)
	}
	m.mu.Unlock()

	m.cancel()
	var wg sync.WaitGroup
	for _, connection := range connections {
		wg.Add(1)
		go func() {
			defer wg.Done()
			connection.shutdown()
		}()
	}
	wg.Wait()
	m.logger.Info("session manager closed", "sessions", len(connections))
	return nil
}
