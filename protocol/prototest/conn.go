// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prototest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/switchboard/protocol"
)

// ErrConnClosed is returned by Send and Logout on a closed Conn.
var ErrConnClosed = errors.New("prototest: conn closed")

// queueDepth bounds pushed events not yet consumed.
const queueDepth = 256

// Conn is a fake protocol.Conn driven by the test.
type Conn struct {
	options     protocol.DialOptions
	pairingCode string

	queue  chan protocol.Event
	events chan protocol.Event
	done   chan struct{} // Close was called
	ending chan struct{} // remote close: drain queue, then stop
	exited chan struct{} // events channel closed

	closeOnce sync.Once
	endOnce   sync.Once

	mu        sync.Mutex
	sent      []protocol.OutgoingMessage
	sendErr   error
	logouts   int
	logoutErr error
	sequence  int

	sentNotify chan protocol.OutgoingMessage
}

func newConn(options protocol.DialOptions, pairingCode string) *Conn {
	conn := &Conn{
		options:     options,
		pairingCode: pairingCode,
		queue:       make(chan protocol.Event, queueDepth),
		events:      make(chan protocol.Event),
		done:        make(chan struct{}),
		ending:      make(chan struct{}),
		exited:      make(chan struct{}),
		sentNotify:  make(chan protocol.OutgoingMessage, queueDepth),
	}
	go conn.pump()
	return conn
}

// pump moves queued events to the consumer one at a time so that
// Events closes only after everything pushed before a remote close
// was delivered.
func (c *Conn) pump() {
	defer close(c.exited)
	defer close(c.events)
	for {
		select {
		case event := <-c.queue:
			if !c.deliver(event) {
				return
			}
		case <-c.ending:
			for {
				select {
				case event := <-c.queue:
					if !c.deliver(event) {
						return
					}
				default:
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) deliver(event protocol.Event) bool {
	select {
	case c.events <- event:
		return true
	case <-c.done:
		return false
	}
}

// Options returns the options this Conn was dialed with.
func (c *Conn) Options() protocol.DialOptions {
	return c.options
}

// PendingPairingCode implements protocol.Pairer.
func (c *Conn) PendingPairingCode() string {
	return c.pairingCode
}

// Session returns the session name this Conn was dialed for.
func (c *Conn) Session() string {
	return c.options.Session
}

// Push queues event for delivery. It reports false if the Conn has
// stopped.
func (c *Conn) Push(event protocol.Event) bool {
	select {
	case <-c.done:
		return false
	case <-c.ending:
		return false
	default:
	}
	select {
	case c.queue <- event:
		return true
	case <-c.done:
		return false
	}
}

// Open pushes a StateOpen update.
func (c *Conn) Open() bool {
	return c.Push(protocol.ConnectionUpdate{State: protocol.StateOpen})
}

// Pair pushes a pairing code while connecting.
func (c *Conn) Pair(code string) bool {
	return c.Push(protocol.ConnectionUpdate{State: protocol.StateConnecting, PairingCode: code})
}

// UpdateCredentials pushes a CredentialsUpdate.
func (c *Conn) UpdateCredentials(credentials protocol.Credentials) bool {
	return c.Push(protocol.CredentialsUpdate{Credentials: credentials.Clone()})
}

// Deliver pushes a MessagesUpsert.
func (c *Conn) Deliver(messages ...protocol.Message) bool {
	return c.Push(protocol.MessagesUpsert{Messages: messages})
}

// Disconnect simulates the remote side closing the connection: a
// closed update carrying reason is delivered, then Events closes.
func (c *Conn) Disconnect(reason protocol.DisconnectReason) {
	c.Push(protocol.ConnectionUpdate{
		State:  protocol.StateClosed,
		Reason: reason,
		Err:    fmt.Errorf("prototest: remote closed: %s", reason),
	})
	c.endOnce.Do(func() { close(c.ending) })
}

// SetSendError makes Send fail with err until reset with nil.
func (c *Conn) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// SetLogoutError makes Logout fail with err.
func (c *Conn) SetLogoutError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logoutErr = err
}

// Events implements protocol.Conn.
func (c *Conn) Events() <-chan protocol.Event {
	return c.events
}

// Send implements protocol.Conn. Successful sends are recorded and
// announced on Sent.
func (c *Conn) Send(ctx context.Context, message protocol.OutgoingMessage) (string, error) {
	if c.stopped() {
		return "", ErrConnClosed
	}
	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return "", err
	}
	c.sequence++
	id := fmt.Sprintf("%s-%d", c.options.Session, c.sequence)
	c.sent = append(c.sent, message)
	c.mu.Unlock()

	select {
	case c.sentNotify <- message:
	default:
	}
	return id, nil
}

// Sent delivers each successfully sent message.
func (c *Conn) Sent() <-chan protocol.OutgoingMessage {
	return c.sentNotify
}

// SentMessages returns every successfully sent message.
func (c *Conn) SentMessages() []protocol.OutgoingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.OutgoingMessage(nil), c.sent...)
}

// Logout implements protocol.Conn.
func (c *Conn) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return c.logoutErr
}

// Logouts returns how many times Logout was called.
func (c *Conn) Logouts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logouts
}

// Close implements protocol.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// stopped reports whether Close was called or the remote side
// disconnected.
func (c *Conn) stopped() bool {
	select {
	case <-c.done:
		return true
	case <-c.ending:
		return true
	default:
		return false
	}
}

// Exited is closed once the Events channel has been closed.
func (c *Conn) Exited() <-chan struct{} {
	return c.exited
}

var (
	_ protocol.Conn   = (*Conn)(nil)
	_ protocol.Pairer = (*Conn)(nil)
)
