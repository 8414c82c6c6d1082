// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStageSniffsContentNotExtension(t *testing.T) {
	s := NewStager()
	// PNG bytes behind a lying extension.
	att := s.Stage("report.pdf", pngBytes(t, 3, 2))
	if att.MIME != "image/png" {
		t.Fatalf("MIME = %q, want image/png", att.MIME)
	}
	if !att.IsImage() {
		t.Fatal("IsImage() = false for png content")
	}
	if att.Width != 3 || att.Height != 2 {
		t.Fatalf("dimensions = %dx%d, want 3x2", att.Width, att.Height)
	}
}

func TestStageNonImage(t *testing.T) {
	s := NewStager()
	data := []byte("plain text body\n")
	att := s.Stage("notes.txt", data)
	if att.IsImage() {
		t.Fatalf("IsImage() = true for %q", att.MIME)
	}
	if att.Width != 0 || att.Height != 0 {
		t.Fatalf("non-image got dimensions %dx%d", att.Width, att.Height)
	}
	if att.Size != int64(len(data)) {
		t.Fatalf("Size = %d, want %d", att.Size, len(data))
	}
}

func TestStagerDiscardAndClear(t *testing.T) {
	s := NewStager()
	s.Stage("a.txt", []byte("a"))
	s.Stage("b.txt", []byte("b"))
	s.Stage("c.txt", []byte("c"))

	s.Discard(1)
	got := s.List()
	if len(got) != 2 || got[0].Name != "a.txt" || got[1].Name != "c.txt" {
		t.Fatalf("after discard: %+v", got)
	}

	// Out-of-range discards are ignored.
	s.Discard(-1)
	s.Discard(5)
	if len(s.List()) != 2 {
		t.Fatal("out-of-range discard changed the set")
	}

	s.Clear()
	if !s.Empty() {
		t.Fatal("Clear() left attachments staged")
	}
}

func TestStagerTakeEmptiesAtomically(t *testing.T) {
	s := NewStager()
	s.Stage("a.txt", []byte("a"))
	files := s.take()
	if len(files) != 1 {
		t.Fatalf("take returned %d files", len(files))
	}
	if !s.Empty() {
		t.Fatal("take left files staged")
	}
}
