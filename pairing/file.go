// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skip2/go-qrcode"
)

// ImageFile is the name of the QR image inside a session directory.
const ImageFile = "qr.png"

// DefaultImageSize is the edge length of rendered images in pixels.
const DefaultImageSize = 256

// FileSinkConfig configures a FileSink.
type FileSinkConfig struct {
	// Root is the sessions root; images land in Root/<name>/qr.png.
	Root string
	// Size is the image edge length in pixels. Defaults to
	// DefaultImageSize.
	Size int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// FileSink writes each pairing code as a PNG QR image into the
// session's directory.
type FileSink struct {
	root   string
	size   int
	level  qrcode.RecoveryLevel
	logger *slog.Logger
}

// NewFileSink creates a FileSink writing under config.Root.
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("pairing: Root is required")
	}
	size := config.Size
	if size <= 0 {
		size = DefaultImageSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{root: config.Root, size: size, level: qrcode.Medium, logger: logger}, nil
}

// Path returns where name's image is written.
func (s *FileSink) Path(name string) string {
	return filepath.Join(s.root, name, ImageFile)
}

// Emit renders code and atomically replaces name's image.
func (s *FileSink) Emit(name, code string) {
	if err := s.write(name, code); err != nil {
		s.logger.Error("writing pairing image failed",
			"session", name,
			"path", s.Path(name),
			"error", err,
		)
		return
	}
	s.logger.Info("pairing code published", "session", name, "path", s.Path(name))
}

func (s *FileSink) write(name, code string) error {
	if name == "" || filepath.Base(name) != name || name[0] == '.' {
		return fmt.Errorf("pairing: invalid session name %q", name)
	}
	image, err := qrcode.Encode(code, s.level, s.size)
	if err != nil {
		return fmt.Errorf("pairing: encoding QR: %w", err)
	}
	directory := filepath.Join(s.root, name)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("pairing: creating %s: %w", directory, err)
	}

	temporary, err := os.CreateTemp(directory, ".tmp-"+ImageFile+"-*")
	if err != nil {
		return fmt.Errorf("pairing: creating temporary image: %w", err)
	}
	temporaryPath := temporary.Name()
	if _, err := temporary.Write(image); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("pairing: writing image: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("pairing: closing image: %w", err)
	}
	if err := os.Rename(temporaryPath, s.Path(name)); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("pairing: installing image: %w", err)
	}
	return nil
}

// Clear removes name's image if present.
func (s *FileSink) Clear(name string) {
	err := os.Remove(s.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("removing pairing image failed", "session", name, "error", err)
	}
}

// Open returns name's current image. The error wraps fs.ErrNotExist
// when no code is pending.
func (s *FileSink) Open(name string) (io.ReadCloser, error) {
	if name == "" || filepath.Base(name) != name || name[0] == '.' {
		return nil, fmt.Errorf("pairing: invalid session name %q: %w", name, fs.ErrNotExist)
	}
	return os.Open(s.Path(name))
}
