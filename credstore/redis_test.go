// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/switchboard/protocol"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	store, err := NewRedisStore(RedisStoreConfig{Client: client, Prefix: "test:session:"})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	return store, server
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedisStore(t)

	if names, err := store.List(ctx); err != nil || len(names) != 0 {
		t.Fatalf("List on empty server = %v, %v", names, err)
	}

	for _, name := range []string{"beta", "alpha"} {
		if err := store.Save(ctx, name, protocol.Credentials{}.With("owner", name)); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	// Foreign keys outside the prefix are not sessions.
	server.Set("other:alpha", "x")

	names, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"alpha", "beta"}; !slices.Equal(names, want) {
		t.Errorf("List = %v, want %v", names, want)
	}

	loaded, err := store.Load(ctx, "alpha")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := loaded.Get("owner"); got != "alpha" {
		t.Errorf("owner = %q, want alpha", got)
	}

	if err := store.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if server.Exists("test:session:alpha") {
		t.Error("key still present after Delete")
	}
	if _, err := store.Load(ctx, "alpha"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "alpha"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestRedisStoreCorrupt(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedisStore(t)
	server.Set("test:session:broken", "garbage")
	if _, err := store.Load(ctx, "broken"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load = %v, want ErrCorrupt", err)
	}
}

func TestRedisStoreServerDown(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedisStore(t)
	server.Close()
	if _, err := store.List(ctx); err == nil {
		t.Error("List succeeded against a stopped server")
	}
	if err := store.Save(ctx, "alpha", protocol.Credentials{}); err == nil {
		t.Error("Save succeeded against a stopped server")
	}
}
