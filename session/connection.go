// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/switchboard/credstore"
	"github.com/bureau-foundation/switchboard/protocol"
)

// State is a session's connection state.
type State = protocol.ConnectionState

const (
	StateConnecting = protocol.StateConnecting
	StateOpen       = protocol.StateOpen
	StateClosed     = protocol.StateClosed
)

// Status is a point-in-time view of a Connection.
type Status struct {
	Name           string                    `json:"name"`
	State          State                     `json:"state"`
	Reason         protocol.DisconnectReason `json:"reason,omitempty"`
	PairingPending bool                      `json:"pairing_pending"`
	Attempts       int                       `json:"attempts"`
	ConnectedAt    time.Time                 `json:"connected_at,omitzero"`
	LastError      string                    `json:"last_error,omitempty"`
}

// Connection is one named session. It survives reconnects: each
// attempt replaces the Conn inside it.
type Connection struct {
	name    string
	manager *Manager
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// dialMu serializes connect attempts. Holding it while checking
	// for a live Conn is what keeps a session to one Conn at a time.
	dialMu sync.Mutex

	mu          sync.Mutex
	state       State
	reason      protocol.DisconnectReason
	conn        protocol.Conn
	generation  uint64
	credentials protocol.Credentials
	pairingCode string
	attempts    int
	connectedAt time.Time
	lastErr     error
	detached    bool
	closed      bool

	// reconnectWanted is set by a close and cleared by the reconnect
	// task when it starts an attempt; reconnecting is true while that
	// task runs.
	reconnectWanted bool
	reconnecting    bool

	// restartPending is non-nil while a restart grace task is in
	// flight and is closed when it finishes.
	restartPending chan struct{}

	dispatchers sync.WaitGroup
	tasks       sync.WaitGroup
}

func newConnection(manager *Manager, name string) *Connection {
	ctx, cancel := context.WithCancel(manager.ctx)
	return &Connection{
		name:    name,
		manager: manager,
		logger:  manager.logger.With("session", name),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateClosed,
	}
}

// Name returns the session name.
func (c *Connection) Name() string {
	return c.name
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns the reason for the most recent close.
func (c *Connection) Reason() protocol.DisconnectReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Credentials returns a copy of the session's current bundle.
func (c *Connection) Credentials() protocol.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credentials.Clone()
}

// PairingCode returns the pairing code awaiting a scan, or "".
func (c *Connection) PairingCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairingCode
}

// Status returns a snapshot of the session.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := Status{
		Name:           c.name,
		State:          c.state,
		PairingPending: c.pairingCode != "",
		Attempts:       c.attempts,
		ConnectedAt:    c.connectedAt,
	}
	if c.state == StateClosed {
		status.Reason = c.reason
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}

// Send delivers message over the live Conn. It returns ErrNotConnected
// unless the session is open; nothing is queued.
func (c *Connection) Send(ctx context.Context, message protocol.OutgoingMessage) (string, error) {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return "", ErrDetached
	}
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	id, err := conn.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("session %s: sending to %s: %w", c.name, message.Chat, err)
	}
	return id, nil
}

// inactiveLocked returns why the session may not start new work, or
// nil. Caller holds c.mu.
func (c *Connection) inactiveLocked() error {
	switch {
	case c.detached:
		return ErrDetached
	case c.closed:
		return ErrClosed
	}
	return nil
}

// connect opens a Conn unless one is already live.
func (c *Connection) connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if err := c.inactiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.conn != nil && c.state != StateClosed {
		c.mu.Unlock()
		c.logger.Debug("connection already live, reusing", "state", c.state)
		return nil
	}
	c.state = StateConnecting
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("connecting", "attempt", attempt)

	conn, credentials, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.reason = protocol.ReasonUnknown
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("connect failed", "attempt", attempt, "error", err)
		return err
	}

	c.mu.Lock()
	if err := c.inactiveLocked(); err != nil {
		c.mu.Unlock()
		conn.Close()
		return err
	}
	previous := c.conn
	c.generation++
	generation := c.generation
	c.conn = conn
	c.credentials = credentials
	c.lastErr = nil
	c.dispatchers.Add(1)
	c.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	if pairer, ok := conn.(protocol.Pairer); ok {
		if code := pairer.PendingPairingCode(); code != "" {
			c.publishPairing(code)
		}
	}
	go c.dispatch(conn, generation)
	return nil
}

// publishPairing records code and hands it to the sink unless it is
// already the published code.
func (c *Connection) publishPairing(code string) {
	c.mu.Lock()
	if c.pairingCode == code {
		c.mu.Unlock()
		return
	}
	c.pairingCode = code
	c.mu.Unlock()
	c.logger.Info("pairing code issued")
	c.manager.sink.Emit(c.name, code)
}

// dial loads credentials, negotiates a version and opens a Conn.
func (c *Connection) dial(ctx context.Context) (protocol.Conn, protocol.Credentials, error) {
	credentials, err := c.manager.store.Load(ctx, c.name)
	if errors.Is(err, credstore.ErrNotFound) {
		c.logger.Info("no stored credentials, starting a new session")
		credentials = protocol.Credentials{}
	} else if err != nil {
		return nil, protocol.Credentials{}, fmt.Errorf("session %s: loading credentials: %w", c.name, err)
	}

	version, err := c.manager.dialer.Version(ctx)
	if err != nil {
		return nil, protocol.Credentials{}, fmt.Errorf("session %s: negotiating version: %w", c.name, err)
	}
	c.logger.Debug("negotiated protocol version", "version", version.Name)

	conn, err := c.manager.dialer.Dial(ctx, protocol.DialOptions{
		Session:     c.name,
		Credentials: credentials.Clone(),
		Version:     version,
	})
	if err != nil {
		return nil, protocol.Credentials{}, fmt.Errorf("session %s: dialing: %w", c.name, err)
	}
	return conn, credentials, nil
}

// dispatch consumes conn's events until its channel closes. Events
// from a Conn that has been replaced, or that arrive after detach,
// are dropped.
func (c *Connection) dispatch(conn protocol.Conn, generation uint64) {
	defer c.dispatchers.Done()
	for event := range conn.Events() {
		if !c.current(generation) {
			continue
		}
		switch event := event.(type) {
		case protocol.ConnectionUpdate:
			c.handleConnectionUpdate(conn, generation, event)
		case protocol.CredentialsUpdate:
			c.handleCredentials(event)
		case protocol.MessagesUpsert:
			c.handleMessages(conn, event)
		default:
			c.logger.Warn("ignoring unknown event", "type", fmt.Sprintf("%T", event))
		}
	}
}

func (c *Connection) current(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == generation && !c.detached
}

func (c *Connection) handleConnectionUpdate(conn protocol.Conn, generation uint64, update protocol.ConnectionUpdate) {
	if update.PairingCode != "" {
		c.publishPairing(update.PairingCode)
	}

	c.mu.Lock()
	if c.generation != generation || c.detached {
		c.mu.Unlock()
		return
	}
	switch update.State {
	case protocol.StateConnecting:
		c.state = StateConnecting
		c.mu.Unlock()

	case protocol.StateOpen:
		c.state = StateOpen
		c.reason = protocol.ReasonUnknown
		c.pairingCode = ""
		c.connectedAt = c.manager.clock.Now()
		c.mu.Unlock()
		c.logger.Info("connection open")
		c.manager.sink.Clear(c.name)

	case protocol.StateClosed:
		c.state = StateClosed
		c.reason = update.Reason
		if update.Err != nil {
			c.lastErr = update.Err
		}
		c.mu.Unlock()
		conn.Close()
		c.applyPolicy(update.Reason, update.Err)

	default:
		c.mu.Unlock()
		c.logger.Warn("ignoring connection update with unknown state", "state", int(update.State))
	}
}

func (c *Connection) applyPolicy(reason protocol.DisconnectReason, cause error) {
	policy := PolicyFor(reason)
	c.logger.Info("connection closed",
		"reason", reason,
		"policy", policy,
		"error", cause,
	)
	switch policy {
	case PolicyStop:
		if reason == protocol.ReasonLoggedOut {
			c.logger.Warn("session logged out remotely; credentials kept until detach")
		} else {
			c.logger.Warn("session replaced by another connection; not reconnecting")
		}
	case PolicyReconnect:
		c.scheduleReconnect()
	case PolicyRestart:
		c.scheduleRestart()
	}
}

func (c *Connection) handleCredentials(update protocol.CredentialsUpdate) {
	credentials := update.Credentials.Clone()
	c.mu.Lock()
	c.credentials = credentials
	c.mu.Unlock()

	// Credentials must land even while the manager shuts down.
	ctx := context.WithoutCancel(c.ctx)
	if err := c.manager.store.Save(ctx, c.name, credentials); err != nil {
		c.logger.Error("saving credentials failed", "error", err)
		return
	}
	c.logger.Debug("credentials saved", "entries", len(credentials.Entries))
}

func (c *Connection) handleMessages(conn protocol.Conn, upsert protocol.MessagesUpsert) {
	if c.manager.reply == nil {
		return
	}
	for _, message := range upsert.Messages {
		if message.FromMe {
			continue
		}
		text, err := c.manager.reply(message)
		if err != nil {
			c.logger.Error("building reply failed", "message", message.ID, "error", err)
			continue
		}
		if _, err := conn.Send(c.ctx, protocol.OutgoingMessage{Chat: message.Chat, Body: text}); err != nil {
			c.logger.Error("sending reply failed",
				"message", message.ID,
				"chat", message.Chat,
				"error", err,
			)
		}
	}
}

// scheduleReconnect asks the reconnect task to run, starting it if it
// is not already running.
func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inactiveLocked() != nil || c.ctx.Err() != nil {
		return
	}
	c.reconnectWanted = true
	if c.reconnecting {
		return
	}
	c.reconnecting = true
	c.tasks.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop runs connect until it succeeds or the session stops,
// waiting RetryInterval between failed attempts.
func (c *Connection) reconnectLoop() {
	defer c.tasks.Done()
	for {
		c.mu.Lock()
		if !c.reconnectWanted || c.inactiveLocked() != nil || c.ctx.Err() != nil {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.reconnectWanted = false
		c.mu.Unlock()

		err := c.connect(c.ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrDetached) || errors.Is(err, ErrClosed) || c.ctx.Err() != nil {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		}

		interval := c.manager.config.RetryInterval
		c.logger.Warn("reconnect failed, retrying", "retry_in", interval, "error", err)
		select {
		case <-c.manager.clock.After(interval):
		case <-c.ctx.Done():
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.reconnectWanted = true
		c.mu.Unlock()
	}
}

// scheduleRestart starts the restart grace task unless one is already
// pending for this session.
func (c *Connection) scheduleRestart() {
	c.mu.Lock()
	if c.inactiveLocked() != nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.restartPending != nil {
		c.mu.Unlock()
		c.logger.Debug("restart already pending")
		return
	}
	done := make(chan struct{})
	c.restartPending = done
	c.mu.Unlock()

	grace := c.manager.config.RestartGrace
	c.logger.Warn("restart required, bootstrapping all sessions after grace period", "grace", grace)

	go func() {
		defer func() {
			c.mu.Lock()
			c.restartPending = nil
			c.mu.Unlock()
			close(done)
		}()
		select {
		case <-c.manager.clock.After(grace):
		case <-c.ctx.Done():
			return
		}
		if err := c.manager.restart(c.ctx); err != nil {
			c.logger.Error("bootstrap after restart failed", "error", err)
		}
	}()
}

// detach waits out the detach grace period and any pending restart,
// logs out, stops every goroutine of the session and deletes its
// credentials and pairing image. It reports whether the session was
// stopped; once it is, the session is finished even if deleting its
// credentials failed.
func (c *Connection) detach(ctx context.Context) (bool, error) {
	if err := c.wait(ctx, c.manager.config.DetachGrace); err != nil {
		return false, err
	}

	var conn protocol.Conn
	for {
		c.mu.Lock()
		if err := c.inactiveLocked(); err != nil {
			c.mu.Unlock()
			return false, err
		}
		pending := c.restartPending
		if pending == nil {
			c.detached = true
			conn = c.conn
			c.state = StateClosed
			c.pairingCode = ""
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()
		c.logger.Info("waiting for pending restart before detaching")
		select {
		case <-pending:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if conn != nil {
		if err := conn.Logout(ctx); err != nil {
			c.logger.Warn("logout failed", "error", err)
		}
	} else {
		c.logger.Warn("no connection to log out; discarding local credentials only")
	}

	c.mu.Lock()
	current := c.conn
	c.mu.Unlock()
	if current != nil {
		current.Close()
	}
	c.cancel()
	c.tasks.Wait()
	c.dispatchers.Wait()

	var deleteErr error
	if err := c.manager.store.Delete(ctx, c.name); err != nil {
		deleteErr = fmt.Errorf("session %s: deleting credentials: %w", c.name, err)
	}
	c.manager.sink.Clear(c.name)
	c.logger.Info("session detached")
	return true, deleteErr
}

// shutdown stops the session without logging out or deleting
// anything.
func (c *Connection) shutdown() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	pending := c.restartPending
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	c.tasks.Wait()
	c.dispatchers.Wait()
	if pending != nil {
		<-pending
	}
}

// wait sleeps d on the manager clock or until ctx ends.
func (c *Connection) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-c.manager.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
