// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/switchboard/lib/sealed"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"--config", "/etc/switchboard.yaml", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != "/etc/switchboard.yaml" || opts.logLevel != "debug" {
		t.Errorf("opts = %+v", opts)
	}

	if _, err := parseFlags([]string{"serve"}); err == nil {
		t.Error("expected an error for a positional argument")
	}
	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

func TestParseLevel(t *testing.T) {
	for text, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := parseLevel(text)
		if err != nil || got != want {
			t.Errorf("parseLevel(%q) = %v, %v", text, got, err)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	if err := run([]string{"--version"}, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "switchboard ") {
		t.Errorf("output = %q", stdout.String())
	}
}

func TestInitIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.txt")
	var stdout bytes.Buffer
	if err := run([]string{"--init-identity", path}, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}

	identity, err := sealed.LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if !strings.Contains(stdout.String(), identity.Recipient()) {
		t.Errorf("output %q does not name the public key", stdout.String())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("identity mode = %v", info.Mode().Perm())
	}

	if err := run([]string{"--init-identity", path}, &stdout); err == nil {
		t.Error("overwrote an existing identity file")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: etcd\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := run([]string{"--config", path}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("run = %v, want an invalid configuration error", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	t.Setenv("SWITCHBOARD_CONFIG", "")
	if err := run(nil, &bytes.Buffer{}); err == nil {
		t.Error("run succeeded without any config")
	}
}
