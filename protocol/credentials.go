// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"maps"
	"sort"
)

// Credentials is the identity material of one session. Its entries are
// opaque to everything except the protocol implementation that wrote
// them. The zero value is the empty bundle a brand-new session starts
// from.
type Credentials struct {
	Entries map[string][]byte `cbor:"entries"`
}

// IsEmpty reports whether the bundle holds no entries.
func (c Credentials) IsEmpty() bool {
	return len(c.Entries) == 0
}

// Get returns the named entry as a string, or "" when absent.
func (c Credentials) Get(key string) string {
	return string(c.Entries[key])
}

// With returns a copy of c with key set to value.
func (c Credentials) With(key, value string) Credentials {
	clone := c.Clone()
	if clone.Entries == nil {
		clone.Entries = make(map[string][]byte)
	}
	clone.Entries[key] = []byte(value)
	return clone
}

// Clone returns a deep copy. Events hand credentials across
// goroutines; cloning keeps the sender free to keep mutating its own
// copy.
func (c Credentials) Clone() Credentials {
	if c.Entries == nil {
		return Credentials{}
	}
	clone := make(map[string][]byte, len(c.Entries))
	for key, value := range c.Entries {
		clone[key] = bytes.Clone(value)
	}
	return Credentials{Entries: clone}
}

// Equal reports whether both bundles hold the same entries.
func (c Credentials) Equal(other Credentials) bool {
	return maps.EqualFunc(c.Entries, other.Entries, bytes.Equal)
}

// Keys returns the entry names in sorted order.
func (c Credentials) Keys() []string {
	keys := make([]string, 0, len(c.Entries))
	for key := range c.Entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
