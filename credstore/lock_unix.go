// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package credstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockDirectory takes an exclusive flock on path, creating it if
// needed, so two switchboard processes sharing a sessions root cannot
// interleave writes to one session. The returned function releases
// the lock.
func lockDirectory(path string) (func(), error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	for {
		err = unix.Flock(int(file.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return func() {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
	}, nil
}
