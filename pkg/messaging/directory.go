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
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrStaleSelection marks a history fetch that resolved after a newer
// contact selection. The result is discarded; callers should not surface
// this to the user.
var ErrStaleSelection = errors.New("history fetch superseded by a newer selection")

// HistorySource is the transport surface the directory needs: the history
// fetch that lazily resolves a contact's conversation id, and the room join
// that subscribes the push channel to it.
type HistorySource interface {
	FetchHistory(ctx context.Context, contactID string, contactType PeerType) (conversationID string, messages []*Message, err error)
	JoinConversation(conversationID string) error
}

// Directory is the contact list driving conversation selection. Each entry
// carries a last-message preview and an unread count; selecting a contact
// fetches history, seeds the store, and joins the conversation room.
type Directory struct {
	mu  sync.Mutex
	log zerolog.Logger

	store  *Store
	source HistorySource
	typing *TypingTracker

	contacts map[ContactKey]*Contact
	order    []ContactKey

	// convByContact pins the conversation id resolved by the first
	// successful history fetch; it is authoritative for the session.
	convByContact map[ContactKey]string
	contactByConv map[string]ContactKey

	active     ContactKey
	hasActive  bool
	activeConv string

	// generation guards against stale history responses: network replies
	// are not guaranteed to arrive in request order, so each selection bumps
	// the counter and a fetch only applies if it still owns the latest one.
	generation uint64

	unread map[string]int
}

// NewDirectory creates a directory over the given store and transport.
// typing may be nil.
func NewDirectory(log zerolog.Logger, store *Store, source HistorySource, typing *TypingTracker) *Directory {
	return &Directory{
		log:           log.With().Str("component", "directory").Logger(),
		store:         store,
		source:        source,
		typing:        typing,
		contacts:      make(map[ContactKey]*Contact),
		convByContact: make(map[ContactKey]string),
		contactByConv: make(map[string]ContactKey),
		unread:        make(map[string]int),
	}
}

// Upsert adds or refreshes a contact entry.
func (d *Directory) Upsert(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := c.Key()
	if _, ok := d.contacts[key]; !ok {
		d.order = append(d.order, key)
	}
	cp := c
	d.contacts[key] = &cp
}

// Contacts returns the directory entries in insertion order.
func (d *Directory) Contacts() []Contact {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Contact, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, *d.contacts[key])
	}
	return out
}

// SetPresence updates a contact's availability.
func (d *Directory) SetPresence(key ContactKey, p Presence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.contacts[key]; ok {
		c.Presence = p
	}
}

// Select makes the contact's conversation active. It fetches history (the
// conversation id does not exist client-side until the first fetch for the
// contact succeeds), seeds the store with the result, joins the push room,
// and resets the unread count.
//
// If a newer selection happens while the fetch is in flight, the resolved
// result is discarded and ErrStaleSelection is returned; the caller should
// treat it as a silent no-op.
func (d *Directory) Select(ctx context.Context, key ContactKey) error {
	d.mu.Lock()
	if _, ok := d.contacts[key]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown contact %s", key)
	}
	d.generation++
	gen := d.generation
	d.active = key
	d.hasActive = true
	d.activeConv = d.convByContact[key] // may still be empty pre-fetch
	d.mu.Unlock()

	if d.typing != nil {
		d.typing.Clear()
	}

	conversationID, msgs, err := d.source.FetchHistory(ctx, key.ID, key.Type)

	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		d.log.Debug().Str("contact", key.String()).Msg("Discarding stale history response")
		return ErrStaleSelection
	}
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("history fetch for %s failed: %w", key, err)
	}

	if prev, ok := d.convByContact[key]; ok && prev != conversationID {
		// First fetch wins; the id is permanent for the session.
		d.log.Warn().
			Str("contact", key.String()).
			Str("previous", prev).
			Str("fetched", conversationID).
			Msg("History fetch returned a different conversation id, keeping the original")
		conversationID = prev
	}
	d.convByContact[key] = conversationID
	d.contactByConv[conversationID] = key
	d.activeConv = conversationID
	d.unread[conversationID] = 0
	d.mu.Unlock()

	d.store.Seed(conversationID, msgs)

	if err := d.source.JoinConversation(conversationID); err != nil {
		d.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to join conversation room")
	}
	return nil
}

// ActiveConversation returns the conversation id of the current selection.
// Empty until the first history fetch for the selected contact succeeds.
func (d *Directory) ActiveConversation() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeConv
}

// ActiveContact returns the selected contact, if any.
func (d *Directory) ActiveContact() (Contact, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasActive {
		return Contact{}, false
	}
	return *d.contacts[d.active], true
}

// ConversationFor returns the session's conversation id for a contact.
func (d *Directory) ConversationFor(key ContactKey) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.convByContact[key]
	return id, ok
}

// NotePush records an incoming message against the directory: bumps the
// unread count when the conversation is not the active one. Previews are
// read live from the store via Preview.
func (d *Directory) NotePush(m *Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.ConversationID == d.activeConv {
		return
	}
	d.unread[m.ConversationID]++
}

// Unread returns the unread count for a conversation.
func (d *Directory) Unread(conversationID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread[conversationID]
}

// Preview returns the last-message preview text for a contact's
// conversation, or "" when nothing is known yet.
func (d *Directory) Preview(key ContactKey) string {
	d.mu.Lock()
	conversationID, ok := d.convByContact[key]
	d.mu.Unlock()
	if !ok {
		return ""
	}
	last, ok := d.store.LastMessage(conversationID)
	if !ok {
		return ""
	}
	return last.Text
}
