// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

// Sink receives pairing codes for sessions awaiting linking.
// Implementations must be safe for concurrent use by many sessions.
type Sink interface {
	// Emit publishes code for the named session, replacing any code
	// published earlier.
	Emit(name, code string)

	// Clear withdraws the session's code once it is linked or gone.
	Clear(name string)
}

// Multi returns a Sink that forwards to every sink in order.
func Multi(sinks ...Sink) Sink {
	var flat multi
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if nested, ok := sink.(multi); ok {
			flat = append(flat, nested...)
			continue
		}
		flat = append(flat, sink)
	}
	return flat
}

type multi []Sink

func (m multi) Emit(name, code string) {
	for _, sink := range m {
		sink.Emit(name, code)
	}
}

func (m multi) Clear(name string) {
	for _, sink := range m {
		sink.Clear(name)
	}
}

// Discard is a Sink that drops every code.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(string, string) {}
func (discard) Clear(string)        {}
