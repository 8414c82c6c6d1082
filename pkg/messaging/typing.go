// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"sync"
	"time"
)

// TypingTracker holds the single "who is typing" ephemeral value. Set by
// typing events from the push channel, cleared by stop events, by switching
// conversations, or by the timeout.
type TypingTracker struct {
	mu             sync.Mutex
	conversationID string
	active         bool
	timeout        time.Duration
	timer          *time.Timer
}

// NewTypingTracker creates a tracker with the given auto-clear timeout.
// A non-positive timeout disables auto-clearing.
func NewTypingTracker(timeout time.Duration) *TypingTracker {
	return &TypingTracker{timeout: timeout}
}

// SetTyping records that the counterpart in conversationID is composing.
func (t *TypingTracker) SetTyping(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversationID = conversationID
	t.active = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.timeout > 0 {
		t.timer = time.AfterFunc(t.timeout, t.expire)
	}
}

// Clear drops the indicator. Called on stop_typing and on conversation
// switch.
func (t *TypingTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

func (t *TypingTracker) clearLocked() {
	t.active = false
	t.conversationID = ""
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *TypingTracker) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// Typing returns the conversation currently showing an indicator, if any.
func (t *TypingTracker) Typing() (conversationID string, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID, t.active
}
