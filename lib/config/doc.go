// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for switchboard.
//
// Configuration is loaded from a single file specified by either the
// SWITCHBOARD_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search. Files ending in .json or .jsonc are parsed as JSON with
// comments and trailing commas; everything else is YAML.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Only the keys an override mentions are
// replaced. Production without a production section turns terminal
// pairing output off.
//
// Variable expansion is performed on paths and secrets after loading:
// ${HOME}, ${SWITCHBOARD_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Durations are strings in time.ParseDuration syntax, decoded through
// [Duration].
//
// This package depends on no other switchboard packages.
package config
