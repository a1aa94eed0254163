// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prototest

import (
	"context"
	"sync"

	"github.com/bureau-foundation/switchboard/protocol"
)

// DefaultVersion is what Dialer.Version returns unless overridden.
var DefaultVersion = protocol.Version{Name: "v1.11", Supported: []string{"v1.10", "v1.11"}}

// dialedBuffer bounds how many dials can go unobserved before Dial
// blocks on the Dialed channel.
const dialedBuffer = 256

// Dialer is a scriptable protocol.Dialer.
type Dialer struct {
	// AutoOpen makes every new Conn report StateOpen as its first
	// event.
	AutoOpen bool

	// PairOnDial, when set, gives every Conn dialed with an empty
	// credential bundle a pending pairing code known at dial time:
	// PairOnDial followed by the session name.
	PairOnDial string

	mu           sync.Mutex
	version      protocol.Version
	versionErr   error
	dialErr      error
	sessionErrs  map[string]error
	gate         chan struct{}
	dials        []protocol.DialOptions
	conns        []*Conn
	versionCalls int

	dialed chan *Conn
}

// NewDialer returns a Dialer that succeeds by default.
func NewDialer() *Dialer {
	return &Dialer{
		version:     DefaultVersion,
		sessionErrs: make(map[string]error),
		dialed:      make(chan *Conn, dialedBuffer),
	}
}

// SetVersionError makes Version fail with err until reset with nil.
func (d *Dialer) SetVersionError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.versionErr = err
}

// SetDialError makes every Dial fail with err until reset with nil.
func (d *Dialer) SetDialError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// FailSession makes Dial fail with err for one session name. A nil
// err clears it.
func (d *Dialer) FailSession(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.sessionErrs, name)
		return
	}
	d.sessionErrs[name] = err
}

// Hold makes subsequent Dial calls block until the returned function
// is called (or their context ends).
func (d *Dialer) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Version implements protocol.Dialer.
func (d *Dialer) Version(ctx context.Context) (protocol.Version, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.versionCalls++
	if d.versionErr != nil {
		return protocol.Version{}, d.versionErr
	}
	return d.version, nil
}

// Dial implements protocol.Dialer.
func (d *Dialer) Dial(ctx context.Context, options protocol.DialOptions) (protocol.Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	options.Credentials = options.Credentials.Clone()
	d.dials = append(d.dials, options)
	err := d.dialErr
	if sessionErr, ok := d.sessionErrs[options.Session]; ok {
		err = sessionErr
	}
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	var pairingCode string
	if d.PairOnDial != "" && options.Credentials.IsEmpty() {
		pairingCode = d.PairOnDial + options.Session
	}
	conn := newConn(options, pairingCode)
	d.conns = append(d.conns, conn)
	autoOpen := d.AutoOpen
	d.mu.Unlock()

	if autoOpen {
		conn.Open()
	}
	d.dialed <- conn
	return conn, nil
}

// Dialed delivers every Conn the Dialer creates, in creation order.
func (d *Dialer) Dialed() <-chan *Conn {
	return d.dialed
}

// Dials returns the options of every Dial call, failed ones included.
func (d *Dialer) Dials() []protocol.DialOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.DialOptions(nil), d.dials...)
}

// DialCount returns how many Dial calls named session.
func (d *Dialer) DialCount(session string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, options := range d.dials {
		if options.Session == session {
			count++
		}
	}
	return count
}

// VersionCalls returns how many times Version was called.
func (d *Dialer) VersionCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.versionCalls
}

// Conns returns every Conn created, in creation order.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// LiveConns returns the Conns for session that have neither been
// closed nor disconnected.
func (d *Dialer) LiveConns(session string) []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	var live []*Conn
	for _, conn := range d.conns {
		if conn.options.Session == session && !conn.stopped() {
			live = append(live, conn)
		}
	}
	return live
}

var _ protocol.Dialer = (*Dialer)(nil)
