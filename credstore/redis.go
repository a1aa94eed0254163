// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/protocol"
)

// DefaultRedisPrefix namespaces session keys when RedisStoreConfig
// leaves Prefix empty.
const DefaultRedisPrefix = "switchboard:session:"

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 256

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	// Client is required. Any go-redis client (single node, cluster,
	// sentinel failover) satisfies UniversalClient.
	Client redis.UniversalClient
	// Prefix is prepended to every session name to form its key.
	Prefix string
	// Identity seals records at rest when non-nil.
	Identity *sealed.Identity
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RedisStore keeps one key per session holding the same envelope
// FileStore writes to disk.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	codec  recordCodec
	order  writeOrder
	logger *slog.Logger
}

// NewRedisStore creates a RedisStore on config.Client.
func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("credstore: redis Client is required")
	}
	prefix := config.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: config.Client,
		prefix: prefix,
		codec:  recordCodec{identity: config.Identity},
		logger: logger,
	}, nil
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// List scans the prefix and returns the session names found.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var names []string
	iterator := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iterator.Next(ctx) {
		name := strings.TrimPrefix(iterator.Val(), s.prefix)
		if ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	if err := iterator.Err(); err != nil {
		return nil, fmt.Errorf("credstore: scanning %s*: %w", s.prefix, err)
	}
	// SCAN may return a key more than once.
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Load returns the bundle stored under name's key.
func (s *RedisStore) Load(ctx context.Context, name string) (protocol.Credentials, error) {
	if err := ValidateName(name); err != nil {
		return protocol.Credentials{}, err
	}
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return protocol.Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return protocol.Credentials{}, fmt.Errorf("credstore: reading %s: %w", s.key(name), err)
	}
	credentials, err := s.codec.decode(data)
	if err != nil {
		return protocol.Credentials{}, fmt.Errorf("loading %s: %w", name, err)
	}
	return credentials, nil
}

// Save replaces the value under name's key.
func (s *RedisStore) Save(ctx context.Context, name string, credentials protocol.Credentials) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	ticket := s.order.take(name)
	data, err := s.codec.encode(credentials)
	if err != nil {
		ticket.cancel()
		return err
	}
	written, err := ticket.write(func() error {
		if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
			return fmt.Errorf("credstore: writing %s: %w", s.key(name), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !written {
		s.logger.Debug("dropped superseded credential write", "session", name)
	}
	return nil
}

// Delete removes name's key.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.order.clear(name, func() error {
		if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
			return fmt.Errorf("credstore: deleting %s: %w", s.key(name), err)
		}
		return nil
	})
}

var _ Store = (*RedisStore)(nil)
