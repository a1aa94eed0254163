// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/protocol"
)

const (
	// RecordFile is the name of the credential record inside a
	// session directory.
	RecordFile = "credentials"

	// lockFile is the flock target inside a session directory.
	lockFile = ".lock"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Root is the sessions root. It is created if missing.
	Root string
	// Identity seals records at rest when non-nil.
	Identity *sealed.Identity
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// FileStore keeps one directory per session under a root directory.
type FileStore struct {
	root   string
	codec  recordCodec
	order  writeOrder
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at config.Root.
func NewFileStore(config FileStoreConfig) (*FileStore, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("credstore: Root is required")
	}
	if err := os.MkdirAll(config.Root, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: creating sessions root: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		root:   config.Root,
		codec:  recordCodec{identity: config.Identity},
		logger: logger,
	}, nil
}

// Root returns the sessions root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Dir returns the directory that holds name's record.
func (s *FileStore) Dir(name string) string {
	return filepath.Join(s.root, name)
}

// List returns the names of the session directories under the root.
// Dot-entries and plain files are skipped.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("credstore: listing %s: %w", s.root, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ValidateName(entry.Name()); err != nil {
			if entry.Name()[0] != '.' {
				s.logger.Warn("skipping directory that is not a valid session name",
					"directory", entry.Name(),
					"error", err,
				)
			}
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Load reads name's record. A session directory without a record
// (created for pairing before the first credentials were issued)
// yields an empty bundle.
func (s *FileStore) Load(_ context.Context, name string) (protocol.Credentials, error) {
	if err := ValidateName(name); err != nil {
		return protocol.Credentials{}, err
	}
	directory := s.Dir(name)
	if _, err := os.Stat(directory); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return protocol.Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return protocol.Credentials{}, fmt.Errorf("credstore: stat %s: %w", directory, err)
	}

	data, err := os.ReadFile(filepath.Join(directory, RecordFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return protocol.Credentials{}, nil
		}
		return protocol.Credentials{}, fmt.Errorf("credstore: reading record for %s: %w", name, err)
	}
	credentials, err := s.codec.decode(data)
	if err != nil {
		return protocol.Credentials{}, fmt.Errorf("loading %s: %w", name, err)
	}
	return credentials, nil
}

// Save atomically replaces name's record.
func (s *FileStore) Save(_ context.Context, name string, credentials protocol.Credentials) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	ticket := s.order.take(name)
	data, err := s.codec.encode(credentials)
	if err != nil {
		ticket.cancel()
		return err
	}

	directory := s.Dir(name)
	written, err := ticket.write(func() error {
		if err := os.MkdirAll(directory, 0o700); err != nil {
			return fmt.Errorf("credstore: creating %s: %w", directory, err)
		}
		unlock, err := lockDirectory(filepath.Join(directory, lockFile))
		if err != nil {
			return fmt.Errorf("credstore: locking %s: %w", directory, err)
		}
		defer unlock()
		return writeFileAtomic(filepath.Join(directory, RecordFile), data, 0o600)
	})
	if err != nil {
		return err
	}
	if !written {
		s.logger.Debug("dropped superseded credential write", "session", name)
	}
	return nil
}

// Delete removes name's directory and everything in it.
func (s *FileStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	directory := s.Dir(name)
	return s.order.clear(name, func() error {
		if _, err := os.Stat(directory); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		unlock, err := lockDirectory(filepath.Join(directory, lockFile))
		if err != nil {
			return fmt.Errorf("credstore: locking %s: %w", directory, err)
		}
		defer unlock()
		if err := os.RemoveAll(directory); err != nil {
			return fmt.Errorf("credstore: removing %s: %w", directory, err)
		}
		return nil
	})
}

// writeFileAtomic writes data to a temporary file next to path, syncs
// it, and renames it over path, so readers see either the old or the
// new record and never a torn one.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()
	cleanup := func() { os.Remove(temporaryPath) }

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := temporary.Chmod(mode); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("chmod %s: %w", temporaryPath, err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := temporary.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		cleanup()
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
