// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Options configures [New].
type Options struct {
	// Console receives all records at Level or above. Defaults to
	// os.Stderr.
	Console io.Writer

	// Level is the console threshold. Defaults to slog.LevelInfo.
	Level slog.Level

	// DiagnosticPath, when set, names a file that receives error-level
	// records as JSON lines. The file is created with mode 0600 and
	// appended to.
	DiagnosticPath string
}

// New builds a logger from options. The returned close function
// releases the diagnostic file and is safe to call when none was
// opened.
func New(options Options) (*slog.Logger, func() error, error) {
	console := options.Console
	if console == nil {
		console = os.Stderr
	}
	handlerOptions := &slog.HandlerOptions{Level: options.Level}

	var handler slog.Handler
	if isTerminal(console) {
		handler = slog.NewTextHandler(console, handlerOptions)
	} else {
		handler = slog.NewJSONHandler(console, handlerOptions)
	}

	if options.DiagnosticPath == "" {
		return slog.New(handler), func() error { return nil }, nil
	}

	diagnostic, closeFile, err := openDiagnosticHandler(options.DiagnosticPath)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(fanoutHandler{handler, diagnostic}), closeFile, nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(file.Fd()))
}

// openDiagnosticHandler opens path for append and returns a JSON
// handler that only accepts error-level records.
func openDiagnosticHandler(path string) (slog.Handler, func() error, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: opening diagnostic log: %w", err)
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelError})
	return handler, file.Close, nil
}

// fanoutHandler is a slog.Handler that sends each record to multiple
// underlying handlers. A record is enabled if any sub-handler is
// enabled for that level.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers record to every enabled handler. A failing handler
// does not stop the others.
func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
