// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/switchboard/protocol"
)

var (
	// ErrNotFound is returned by Load when no record exists for the
	// session name.
	ErrNotFound = errors.New("credstore: session not found")

	// ErrCorrupt is returned when a stored record fails validation.
	ErrCorrupt = errors.New("credstore: corrupt credential record")

	// ErrInvalidName is returned for names that cannot address a
	// session.
	ErrInvalidName = errors.New("credstore: invalid session name")
)

// Store is durable credential storage keyed by session name.
type Store interface {
	// List returns the known session names, sorted.
	List(ctx context.Context) ([]string, error)

	// Load returns the bundle stored for name, or ErrNotFound.
	Load(ctx context.Context, name string) (protocol.Credentials, error)

	// Save replaces the bundle stored for name.
	Save(ctx context.Context, name string, credentials protocol.Credentials) error

	// Delete removes everything stored for name. Deleting an unknown
	// name is not an error.
	Delete(ctx context.Context, name string) error
}

// maxNameLength keeps names well under filesystem component limits.
const maxNameLength = 128

// ValidateName checks that name can be used as a session name. Names
// must be non-empty, must not start with a dot (the sessions root
// holds dot-files such as .gitignore that are not sessions), and may
// contain only letters, digits, '-', '_', '.', '@' and '+'.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), maxNameLength)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	}
	for _, character := range name {
		switch {
		case character >= 'a' && character <= 'z':
		case character >= 'A' && character <= 'Z':
		case character >= '0' && character <= '9':
		case strings.ContainsRune("-_.@+", character):
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, character)
		}
	}
	return nil
}
