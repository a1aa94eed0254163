// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"bytes"
	"errors"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFileSink(t *testing.T) *FileSink {
	t.Helper()
	sink, err := NewFileSink(FileSinkConfig{Root: t.TempDir(), Size: 128})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	return sink
}

func readImage(t *testing.T, sink *FileSink, name string) []byte {
	t.Helper()
	reader, err := sink.Open(name)
	if err != nil {
		t.Fatalf("Open(%q): %v", name, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestFileSinkEmit(t *testing.T) {
	sink := newTestFileSink(t)

	sink.Emit("alpha", "https://matrix.to/#/@alpha:example.org")
	first := readImage(t, sink, "alpha")
	decoded, err := png.Decode(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("image is not a PNG: %v", err)
	}
	if bounds := decoded.Bounds(); bounds.Dx() != 128 || bounds.Dy() != 128 {
		t.Errorf("image size = %v, want 128x128", bounds)
	}

	// A second code replaces the first image in place.
	sink.Emit("alpha", "https://matrix.to/#/@alpha-2:example.org")
	second := readImage(t, sink, "alpha")
	if bytes.Equal(first, second) {
		t.Error("second Emit did not replace the image")
	}

	entries, err := os.ReadDir(filepath.Dir(sink.Path("alpha")))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != ImageFile {
		var names []string
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Errorf("session directory holds %v, want only %s", names, ImageFile)
	}
}

func TestFileSinkClear(t *testing.T) {
	sink := newTestFileSink(t)
	sink.Emit("alpha", "code")
	sink.Clear("alpha")

	if _, err := sink.Open("alpha"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open after Clear = %v, want ErrNotExist", err)
	}
	// Clearing again, or clearing a session that never paired, is quiet.
	sink.Clear("alpha")
	sink.Clear("never")
}

func TestFileSinkRejectsBadNames(t *testing.T) {
	sink := newTestFileSink(t)
	for _, name := range []string{"", "../escape", ".hidden", "a/b"} {
		sink.Emit(name, "code")
		if _, err := sink.Open(name); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Open(%q) = %v, want ErrNotExist", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(sink.root), "escape")); err == nil {
		t.Error("Emit wrote outside the sessions root")
	}
}

type recordingSink struct {
	events []string
}

func (r *recordingSink) Emit(name, code string) { r.events = append(r.events, "emit "+name+" "+code) }
func (r *recordingSink) Clear(name string)      { r.events = append(r.events, "clear "+name) }

func TestMulti(t *testing.T) {
	first, second, third := &recordingSink{}, &recordingSink{}, &recordingSink{}
	sink := Multi(first, nil, Multi(second, third))

	sink.Emit("alpha", "code")
	sink.Clear("alpha")

	for i, recorder := range []*recordingSink{first, second, third} {
		want := []string{"emit alpha code", "clear alpha"}
		if strings.Join(recorder.events, "|") != strings.Join(want, "|") {
			t.Errorf("sink %d saw %v, want %v", i, recorder.events, want)
		}
	}
}

func TestTerminalSinkPlainWriter(t *testing.T) {
	var buffer bytes.Buffer
	sink := NewTerminalSink(&buffer, nil)
	sink.Emit("alpha", "https://matrix.to/#/@alpha:example.org")
	sink.Clear("alpha")

	got := buffer.String()
	if got != "pairing code for alpha: https://matrix.to/#/@alpha:example.org\n" {
		t.Errorf("output = %q", got)
	}
}

func TestTerminalSinkDraws(t *testing.T) {
	var buffer bytes.Buffer
	sink := NewTerminalSink(&buffer, nil)
	sink.draw = true
	sink.Emit("alpha", "code-123")

	got := buffer.String()
	if !strings.HasPrefix(got, "Scan to link session alpha:\n") {
		t.Errorf("output does not start with the banner: %q", got)
	}
	if !strings.Contains(got, "█") && !strings.Contains(got, "▀") && !strings.Contains(got, "▄") {
		t.Error("output contains no QR block characters")
	}
	if !strings.HasSuffix(got, "code-123\n") {
		t.Errorf("output does not end with the code: %q", got)
	}
}
