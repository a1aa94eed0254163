// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/skip2/go-qrcode"
	"golang.org/x/term"
)

// TerminalSink draws pairing codes as text QR codes for an operator
// watching the process. When the writer is not a terminal it prints
// only the code itself, since block characters are noise in a log
// file.
type TerminalSink struct {
	mu     sync.Mutex
	out    io.Writer
	draw   bool
	logger *slog.Logger
}

// NewTerminalSink creates a TerminalSink on out. Block QR codes are
// drawn only when out is a terminal.
func NewTerminalSink(out io.Writer, logger *slog.Logger) *TerminalSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalSink{out: out, draw: isTerminal(out), logger: logger}
}

func isTerminal(out io.Writer) bool {
	file, ok := out.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(file.Fd()))
}

// Emit writes code for name.
func (s *TerminalSink) Emit(name, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.draw {
		fmt.Fprintf(s.out, "pairing code for %s: %s\n", name, code)
		return
	}
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		s.logger.Error("rendering terminal QR failed", "session", name, "error", err)
		fmt.Fprintf(s.out, "pairing code for %s: %s\n", name, code)
		return
	}
	fmt.Fprintf(s.out, "Scan to link session %s:\n%s%s\n", name, qr.ToSmallString(false), code)
}

// Clear prints nothing; a terminal cannot take back what it showed.
func (s *TerminalSink) Clear(string) {}
