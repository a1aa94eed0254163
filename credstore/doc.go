// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore persists session credential bundles, addressed by
// session name.
//
// [FileStore] keeps one directory per session under a sessions root;
// the directory name is the session name and the directory also hosts
// the session's pairing image. [RedisStore] keeps one key per session
// for deployments that run switchboard without durable local disk.
//
// Both backends store the same record: a CBOR envelope whose payload
// is the CBOR-encoded bundle, optionally sealed with age, covered by a
// BLAKE3 digest. A record that fails its digest is reported as
// [ErrCorrupt] rather than silently treated as missing.
//
// Writes for one name are ordered by call: every Save takes a ticket
// when it is called, and a write whose ticket is older than the last
// completed write for that name is dropped. A slow save can therefore
// never land on top of a newer one. Delete supersedes every save
// issued before it.
package credstore
