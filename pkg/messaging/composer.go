// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"context"
	"time"

	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ComposerState is the mode of the input box, gating what "send" does.
type ComposerState int

const (
	ComposerIdle ComposerState = iota
	ComposerReplying
	ComposerEditing
	ComposerRecording
)

func (s ComposerState) String() string {
	switch s {
	case ComposerIdle:
		return "idle"
	case ComposerReplying:
		return "replying"
	case ComposerEditing:
		return "editing"
	case ComposerRecording:
		return "recording_voice"
	default:
		return "unknown"
	}
}

// Outbox is the transport surface the composer sends through.
type Outbox interface {
	// SendPush broadcasts the message over the push channel for low-latency
	// delivery. Best-effort: a no-op while disconnected.
	SendPush(m *Message)
	// SendPersist durably stores the message and returns the server's
	// confirmed copy.
	SendPersist(ctx context.Context, m *Message, files []*StagedAttachment) (*Message, error)
}

// Composer governs the input box. It builds message records on send,
// appends them optimistically, and hands them to the transport; the UI
// stays responsive while the persist call is in flight.
type Composer struct {
	mu  sync.Mutex
	log zerolog.Logger

	state    ComposerState
	targetID string // message being replied to or edited
	text     string

	store  *Store
	stager *Stager
	outbox Outbox

	selfID      string
	selfType    PeerType
	sendTimeout time.Duration

	recordingSecs int
	recTimer      *time.Timer

	// persists tracks in-flight SendPersist goroutines so Close/tests can
	// wait for them.
	persists sync.WaitGroup
}

// NewComposer wires a composer to its store, stager, and transport.
func NewComposer(log zerolog.Logger, store *Store, stager *Stager, outbox Outbox, selfID string, selfType PeerType, sendTimeout time.Duration) *Composer {
	return &Composer{
		log:         log.With().Str("component", "composer").Logger(),
		store:       store,
		stager:      stager,
		outbox:      outbox,
		selfID:      selfID,
		selfType:    selfType,
		sendTimeout: sendTimeout,
	}
}

// State returns the current composer mode.
func (c *Composer) State() ComposerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Text returns the current input text.
func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// SetText updates the input text binding.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

// TargetID returns the message being replied to or edited, if any.
func (c *Composer) TargetID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetID
}

// StartReply enters replying mode. Only valid from idle.
func (c *Composer) StartReply(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ComposerIdle {
		return false
	}
	c.state = ComposerReplying
	c.targetID = messageID
	return true
}

// StartEdit enters editing mode and pre-fills the input with the target
// message's text. Only valid from idle.
func (c *Composer) StartEdit(messageID string) bool {
	target, ok := c.store.Get(messageID)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ComposerIdle {
		return false
	}
	c.state = ComposerEditing
	c.targetID = messageID
	c.text = target.Text
	return true
}

// StartRecording enters voice-recording mode. The duration counter ticks
// once per second on a rescheduled timer. Only valid from idle.
func (c *Composer) StartRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ComposerIdle {
		return false
	}
	c.state = ComposerRecording
	c.recordingSecs = 0
	c.recTimer = time.AfterFunc(time.Second, c.recordingTick)
	return true
}

func (c *Composer) recordingTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ComposerRecording {
		return
	}
	c.recordingSecs++
	c.recTimer = time.AfterFunc(time.Second, c.recordingTick)
}

// RecordingSeconds returns the elapsed recording duration.
func (c *Composer) RecordingSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordingSecs
}

// StopRecording leaves recording mode and returns the recorded duration.
func (c *Composer) StopRecording() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ComposerRecording {
		return 0
	}
	secs := c.recordingSecs
	c.resetLocked()
	return secs
}

// Cancel aborts the current reply, edit, or recording and returns to idle.
// Edit cancellation discards the pre-filled text.
func (c *Composer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ComposerEditing {
		c.text = ""
	}
	c.resetLocked()
}

func (c *Composer) resetLocked() {
	c.state = ComposerIdle
	c.targetID = ""
	c.recordingSecs = 0
	if c.recTimer != nil {
		c.recTimer.Stop()
		c.recTimer = nil
	}
}

// CanSend reports whether the send action is enabled: there must be text,
// a staged attachment, or an edit in progress.
func (c *Composer) CanSend() bool {
	c.mu.Lock()
	text := c.text
	editing := c.state == ComposerEditing
	c.mu.Unlock()
	return text != "" || editing || !c.stager.Empty()
}

// Send executes the mode-appropriate send action for the given conversation
// and returns the optimistic message (nil for edit saves, which go through
// the update path instead of append).
//
// The optimistic append happens synchronously; the persist call runs in the
// background under the send timeout so the caller never blocks on it.
func (c *Composer) Send(ctx context.Context, conversationID string) *Message {
	if !c.CanSend() {
		return nil
	}

	c.mu.Lock()
	if c.state == ComposerEditing {
		targetID, text := c.targetID, c.text
		c.text = ""
		c.resetLocked()
		c.mu.Unlock()
		if !c.store.Edit(targetID, text) {
			c.log.Warn().Str("message_id", targetID).Msg("Edit target no longer exists")
		}
		return nil
	}

	msg := &Message{
		LocalID:        uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.selfID,
		SenderType:     c.selfType,
		Text:           c.text,
		CreatedAt:      now(),
		Delivery:       DeliveryPending,
		Reactions:      make(map[string]int),
	}
	if c.state == ComposerReplying {
		msg.ReplyToID = c.targetID
	}
	c.text = ""
	c.resetLocked()
	c.mu.Unlock()

	files := c.stager.take()
	for _, f := range files {
		msg.Attachments = append(msg.Attachments, Attachment{
			Name: f.Name,
			MIME: f.MIME,
			Size: f.Size,
		})
	}

	c.store.Append(conversationID, msg)
	c.outbox.SendPush(msg.clone())

	c.persists.Add(1)
	go func() {
		defer c.persists.Done()
		pctx := ctx
		var cancel context.CancelFunc
		if c.sendTimeout > 0 {
			pctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
			defer cancel()
		}
		confirmed, err := c.outbox.SendPersist(pctx, msg.clone(), files)
		if err != nil {
			c.log.Warn().Err(err).
				Str("local_id", msg.LocalID).
				Str("conversation_id", conversationID).
				Msg("Persist failed, marking message failed")
			c.store.MarkFailed(msg.LocalID)
			return
		}
		c.store.Reconcile(conversationID, msg.LocalID, confirmed)
	}()

	return msg
}

// Flush waits for in-flight persist calls. Intended for shutdown and tests.
func (c *Composer) Flush() {
	c.persists.Wait()
}
