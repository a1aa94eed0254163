// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import "sync"

// writeOrder serializes writes per name and drops writes that were
// overtaken by a newer call.
type writeOrder struct {
	mu    sync.Mutex
	names map[string]*nameOrder
}

type nameOrder struct {
	mu      sync.Mutex // held for the duration of a write
	issued  uint64     // last ticket handed out
	written uint64     // ticket of the last write that landed
	users   int        // goroutines holding or waiting on mu
}

func (o *writeOrder) enter(name string) *nameOrder {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.names == nil {
		o.names = make(map[string]*nameOrder)
	}
	entry, ok := o.names[name]
	if !ok {
		entry = &nameOrder{}
		o.names[name] = entry
	}
	entry.users++
	return entry
}

func (o *writeOrder) leave(name string, entry *nameOrder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry.users--
	if entry.users == 0 {
		delete(o.names, name)
	}
}

// ticket is one call's place in its name's write order, taken when
// the call enters the store and spent by exactly one of write, clear
// or cancel.
type ticket struct {
	order  *writeOrder
	name   string
	entry  *nameOrder
	number uint64
}

// take hands out the next ticket for name.
func (o *writeOrder) take(name string) *ticket {
	entry := o.enter(name)
	o.mu.Lock()
	entry.issued++
	number := entry.issued
	o.mu.Unlock()
	return &ticket{order: o, name: name, entry: entry, number: number}
}

// write runs fn unless a write with a later ticket has already
// landed. It reports whether fn ran.
func (t *ticket) write(fn func() error) (bool, error) {
	defer t.order.leave(t.name, t.entry)
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()

	if t.number < t.entry.written {
		return false, nil
	}
	if err := fn(); err != nil {
		return true, err
	}
	t.entry.written = t.number
	return true, nil
}

// clear runs fn exclusively and supersedes every write whose ticket
// came before this one.
func (t *ticket) clear(fn func() error) error {
	defer t.order.leave(t.name, t.entry)
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()

	if err := fn(); err != nil {
		return err
	}
	t.entry.written = t.number
	return nil
}

// cancel gives the ticket up without writing.
func (t *ticket) cancel() {
	t.order.leave(t.name, t.entry)
}

// write takes a ticket for name and writes with it.
func (o *writeOrder) write(name string, fn func() error) (bool, error) {
	return o.take(name).write(fn)
}

// clear takes a ticket for name and clears with it.
func (o *writeOrder) clear(name string, fn func() error) error {
	return o.take(name).clear(fn)
}
