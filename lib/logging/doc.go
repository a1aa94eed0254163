// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the process-wide slog logger for switchboard.
//
// Console output is text when the destination is a terminal and JSON
// otherwise, so piped output stays machine-parseable. An optional
// diagnostic file receives error-level records only, appended as JSON
// lines across restarts.
package logging
