// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"sort"
	"sync"
	"time"
)

const (
	// bufferQuietWindow is how long to wait after the last push frame before
	// flushing. Balances latency against reordering accuracy.
	bufferQuietWindow = 500 * time.Millisecond

	// bufferMaxSize force-flushes even inside the quiet window.
	bufferMaxSize = 50
)

// messageBuffer collects push-delivered messages and dispatches them in
// chronological order. The push channel delivers bursts grouped per sender
// rather than interleaved by time; dispatching frames as they arrive would
// seed the store out of order and force repeated repositioning. Only
// content messages go through the buffer; typing and reaction events are
// time-sensitive and bypass it.
type messageBuffer struct {
	mu       sync.Mutex
	entries  []*Message
	timer    *time.Timer
	dispatch func(*Message)
	quiet    time.Duration
	maxSize  int
}

func newMessageBuffer(dispatch func(*Message)) *messageBuffer {
	return &messageBuffer{
		dispatch: dispatch,
		quiet:    bufferQuietWindow,
		maxSize:  bufferMaxSize,
	}
}

// add inserts a message and (re)arms the quiet-window timer. Hitting the
// max size flushes immediately.
func (b *messageBuffer) add(m *Message) {
	b.mu.Lock()
	b.entries = append(b.entries, m)
	if len(b.entries) >= b.maxSize {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.mu.Unlock()
		go b.flush()
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.quiet, b.flush)
	b.mu.Unlock()
}

// flush sorts the held messages by timestamp and dispatches them.
func (b *messageBuffer) flush() {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return
	}
	entries := b.entries
	b.entries = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	for _, m := range entries {
		b.dispatch(m)
	}
}

// stop cancels the timer and discards held messages. Called on disconnect;
// anything dropped here is recovered by the next history fetch.
func (b *messageBuffer) stop() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.entries = nil
	b.mu.Unlock()
}
