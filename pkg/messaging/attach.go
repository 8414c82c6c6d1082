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
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/gabriel-vasile/mimetype"
)

// StagedAttachment is a locally selected file waiting in the composer. The
// preview fields are sniffed at staging time; Data is only read again when
// the send builds its multipart body.
type StagedAttachment struct {
	Name   string
	MIME   string
	Size   int64
	Width  int // 0 for non-images
	Height int
	Data   []byte
}

// IsImage reports whether the sniffed type is an image.
func (a *StagedAttachment) IsImage() bool {
	return strings.HasPrefix(a.MIME, "image/")
}

// Stager holds attachments selected for the next send. Contents survive
// composer state changes but are cleared by a successful send or an
// explicit discard.
type Stager struct {
	mu    sync.Mutex
	files []*StagedAttachment
}

// NewStager creates an empty attachment stager.
func NewStager() *Stager {
	return &Stager{}
}

// Stage adds a file, sniffing its MIME type from content (never trusting
// the file extension) and recording image dimensions for previews.
func (s *Stager) Stage(name string, data []byte) *StagedAttachment {
	att := &StagedAttachment{
		Name: name,
		MIME: mimetype.Detect(data).String(),
		Size: int64(len(data)),
		Data: data,
	}
	if att.IsImage() {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			att.Width = cfg.Width
			att.Height = cfg.Height
		}
	}
	s.mu.Lock()
	s.files = append(s.files, att)
	s.mu.Unlock()
	return att
}

// Discard removes the attachment at index i. Out-of-range indexes are
// ignored.
func (s *Stager) Discard(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.files) {
		return
	}
	s.files = append(s.files[:i], s.files[i+1:]...)
}

// Clear drops every staged attachment.
func (s *Stager) Clear() {
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
}

// List returns the staged attachments in selection order.
func (s *Stager) List() []*StagedAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*StagedAttachment(nil), s.files...)
}

// Empty reports whether nothing is staged.
func (s *Stager) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files) == 0
}

// take atomically returns and clears the staged set; used by the send path.
func (s *Stager) take() []*StagedAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := s.files
	s.files = nil
	return files
}
