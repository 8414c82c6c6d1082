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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// connectAckTimeout bounds the wait for the server's connected ack after
// the setup frame.
const connectAckTimeout = 10 * time.Second

// Client is the session-scoped transport adapter: one long-lived push
// channel shared by every open conversation, plus the REST history/persist
// calls. It is constructed explicitly and passed down — there is no
// package-level connection state.
//
// Lifecycle: NewClient → Connect → (JoinConversation / sends / callbacks) →
// Disconnect. Connect is not retried internally; a failed or dropped
// channel leaves the client in REST-only mode until the caller reconnects.
type Client struct {
	log  zerolog.Logger
	rest *restClient

	socketURL string
	selfID    string
	selfType  PeerType

	chMu sync.Mutex
	ch   *pushChannel

	connected atomic.Bool
	ackCh     chan struct{}
	ackOnce   sync.Once

	// joined accumulates conversation rooms for the current channel; there
	// is no leave operation. Cleared on channel loss, since room membership
	// is per-socket and a new channel must re-join.
	joinedMu sync.Mutex
	joined   map[string]bool

	handlersMu   sync.RWMutex
	onMessage    []func(*Message)
	onTyping     []func(conversationID string)
	onStopTyping []func()
	onReaction   []func(ReactionEvent)

	// buf reorders push-delivered content messages by timestamp before they
	// reach the handlers; see messageBuffer.
	buf *messageBuffer

	// seen is the optional cross-restart echo cache. Nil when disabled.
	seen *SeenCache
}

var _ HistorySource = (*Client)(nil)
var _ Outbox = (*Client)(nil)

// NewClient builds a client from config. The seen-message cache is opened
// here and closed by Disconnect.
func NewClient(cfg *Config, log zerolog.Logger) (*Client, error) {
	c := &Client{
		log:       log.With().Str("component", "client").Logger(),
		rest:      newRESTClient(cfg.ServerURL, cfg.AuthToken, log),
		socketURL: cfg.SocketURL,
		selfID:    cfg.UserID,
		selfType:  cfg.UserType,
		joined:    make(map[string]bool),
	}
	c.buf = newMessageBuffer(c.deliverMessage)
	if cfg.CachePath != "" {
		seen, err := OpenSeenCache(cfg.CachePath)
		if err != nil {
			return nil, err
		}
		c.seen = seen
	}
	return c, nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Connect establishes the push channel, identifies the session with a setup
// frame, and waits for the server's connected ack. On failure the client
// stays usable for REST-only operation.
func (c *Client) Connect(ctx context.Context) error {
	c.chMu.Lock()
	if c.ch != nil {
		c.chMu.Unlock()
		return nil
	}
	ch, err := dialPushChannel(ctx, c.socketURL, c.log)
	if err != nil {
		c.chMu.Unlock()
		return err
	}
	c.ch = ch
	c.ackCh = make(chan struct{})
	c.ackOnce = sync.Once{}
	c.chMu.Unlock()

	go ch.readLoop(c.handleFrame, c.onChannelClosed)

	setup, err := marshalSetup(c.selfID, c.selfType)
	if err != nil {
		return err
	}
	if err := ch.send(setup); err != nil {
		c.teardownChannel()
		return fmt.Errorf("failed to send setup frame: %w", err)
	}

	select {
	case <-c.ackCh:
	case <-time.After(connectAckTimeout):
		c.teardownChannel()
		return fmt.Errorf("timed out waiting for connected ack")
	case <-ctx.Done():
		c.teardownChannel()
		return ctx.Err()
	}

	c.log.Info().Str("user_id", c.selfID).Str("user_type", string(c.selfType)).
		Msg("Push channel connected")
	return nil
}

// Disconnect tears down the push channel and the seen cache. Safe to call
// more than once.
func (c *Client) Disconnect() {
	c.teardownChannel()
	c.buf.stop()
	if c.seen != nil {
		_ = c.seen.Close()
		c.seen = nil
	}
}

func (c *Client) teardownChannel() {
	c.chMu.Lock()
	ch := c.ch
	c.ch = nil
	c.chMu.Unlock()
	c.connected.Store(false)
	c.resetJoined()
	if ch != nil {
		ch.close()
	}
}

func (c *Client) onChannelClosed(err error) {
	if c.connected.Swap(false) {
		c.log.Warn().Err(err).Msg("Push channel closed, continuing REST-only")
	}
	c.chMu.Lock()
	c.ch = nil
	c.chMu.Unlock()
	c.resetJoined()
}

// resetJoined forgets the session's room memberships. They are per-socket
// on the server, so a new channel must re-join every conversation.
func (c *Client) resetJoined() {
	c.joinedMu.Lock()
	c.joined = make(map[string]bool)
	c.joinedMu.Unlock()
}

// Connected reports whether the push channel is established and acked.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// ============================================================================
// Outbound
// ============================================================================

func (c *Client) channel() *pushChannel {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.ch
}

// JoinConversation subscribes the channel to a conversation room so future
// push events for it are delivered. Must be called once the conversation id
// is known (after the first history fetch). Rooms accumulate; joining again
// is a no-op.
func (c *Client) JoinConversation(conversationID string) error {
	c.joinedMu.Lock()
	if c.joined[conversationID] {
		c.joinedMu.Unlock()
		return nil
	}
	c.joinedMu.Unlock()

	if !c.Connected() {
		return ErrTransportUnavailable
	}
	frame, err := marshalJoinChat(conversationID)
	if err != nil {
		return err
	}
	ch := c.channel()
	if ch == nil {
		return ErrTransportUnavailable
	}
	if err := ch.send(frame); err != nil {
		return fmt.Errorf("failed to join conversation %s: %w", conversationID, err)
	}
	c.joinedMu.Lock()
	c.joined[conversationID] = true
	c.joinedMu.Unlock()
	c.log.Debug().Str("conversation_id", conversationID).Msg("Joined conversation room")
	return nil
}

// SendPush broadcasts a message over the push channel for low-latency
// delivery. Fire-and-forget: a no-op while disconnected (the persist path
// still delivers), and send errors are only logged.
func (c *Client) SendPush(m *Message) {
	if !c.Connected() {
		c.log.Debug().Str("local_id", m.LocalID).Msg("Push channel down, skipping push send")
		return
	}
	frame, err := marshalNewMessage(m)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to encode push message")
		return
	}
	ch := c.channel()
	if ch == nil {
		return
	}
	if err := ch.send(frame); err != nil {
		c.log.Warn().Err(err).Str("local_id", m.LocalID).Msg("Push send failed")
	}
}

// SendReaction broadcasts a reaction best-effort, mirroring SendPush.
func (c *Client) SendReaction(conversationID, messageID, emoji string) {
	if !c.Connected() {
		return
	}
	frame, err := marshalReaction(conversationID, messageID, emoji)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to encode reaction")
		return
	}
	ch := c.channel()
	if ch == nil {
		return
	}
	if err := ch.send(frame); err != nil {
		c.log.Warn().Err(err).Str("message_id", messageID).Msg("Reaction send failed")
	}
}

// SendPersist durably stores a message addressed to its conversation id.
func (c *Client) SendPersist(ctx context.Context, m *Message, files []*StagedAttachment) (*Message, error) {
	return c.rest.sendMessage(ctx, m, nil, files)
}

// SendPersistTo durably stores the first message to a contact whose
// conversation id is still unresolved; the server creates the conversation.
func (c *Client) SendPersistTo(ctx context.Context, other ContactKey, m *Message, files []*StagedAttachment) (*Message, error) {
	return c.rest.sendMessage(ctx, m, &other, files)
}

// FetchHistory resolves a contact's conversation id and message log.
// Idempotent; the id is authoritative for the session.
func (c *Client) FetchHistory(ctx context.Context, contactID string, contactType PeerType) (string, []*Message, error) {
	conversationID, msgs, err := c.rest.fetchHistory(ctx, contactID, contactType)
	if err != nil {
		return "", nil, &HistoryFetchError{Contact: ContactKey{ID: contactID, Type: contactType}, Err: err}
	}
	return conversationID, msgs, nil
}

// ============================================================================
// Inbound
// ============================================================================

// OnMessageReceived registers a handler for push-delivered messages.
// Handlers run on the channel's dispatch goroutine after reordering.
func (c *Client) OnMessageReceived(fn func(*Message)) {
	c.handlersMu.Lock()
	c.onMessage = append(c.onMessage, fn)
	c.handlersMu.Unlock()
}

// OnTyping registers a handler for typing events.
func (c *Client) OnTyping(fn func(conversationID string)) {
	c.handlersMu.Lock()
	c.onTyping = append(c.onTyping, fn)
	c.handlersMu.Unlock()
}

// OnStopTyping registers a handler for stop-typing events.
func (c *Client) OnStopTyping(fn func()) {
	c.handlersMu.Lock()
	c.onStopTyping = append(c.onStopTyping, fn)
	c.handlersMu.Unlock()
}

// OnReaction registers a handler for counterpart reactions.
func (c *Client) OnReaction(fn func(ReactionEvent)) {
	c.handlersMu.Lock()
	c.onReaction = append(c.onReaction, fn)
	c.handlersMu.Unlock()
}

// handleFrame decodes one raw frame and routes it. Typing, stop-typing, and
// reaction events are time-sensitive and bypass the reorder buffer; content
// messages go through it.
func (c *Client) handleFrame(data []byte) {
	evt, err := ParseInboundEvent(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("Dropping undecodable push frame")
		return
	}
	switch e := evt.(type) {
	case ConnectedEvent:
		c.connected.Store(true)
		c.ackOnce.Do(func() { close(c.ackCh) })
	case MessageReceivedEvent:
		if c.isKnownEcho(e.Message) {
			c.log.Debug().Str("id", e.Message.ID).Msg("Dropping replayed push message")
			return
		}
		c.buf.add(e.Message)
	case TypingEvent:
		c.handlersMu.RLock()
		handlers := c.onTyping
		c.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(e.ConversationID)
		}
	case StopTypingEvent:
		c.handlersMu.RLock()
		handlers := c.onStopTyping
		c.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn()
		}
	case ReactionEvent:
		c.handlersMu.RLock()
		handlers := c.onReaction
		c.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(e)
		}
	}
}

// isKnownEcho checks the persistent cache for a message id delivered in a
// previous session. Same-session duplicates are handled downstream by the
// store's reconciliation.
func (c *Client) isKnownEcho(m *Message) bool {
	if c.seen == nil || m.ID == "" {
		return false
	}
	known, err := c.seen.Has(context.Background(), m.ID)
	if err != nil {
		c.log.Warn().Err(err).Msg("Seen cache lookup failed")
		return false
	}
	return known
}

// deliverMessage is the reorder buffer's dispatch target: it records the id
// in the seen cache and fans out to the registered handlers.
func (c *Client) deliverMessage(m *Message) {
	if c.seen != nil && m.ID != "" {
		if err := c.seen.Remember(context.Background(), m.ID, m.ConversationID, m.CreatedAt.UnixMilli()); err != nil {
			c.log.Warn().Err(err).Msg("Seen cache write failed")
		}
	}
	c.handlersMu.RLock()
	handlers := c.onMessage
	c.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(m)
	}
}
