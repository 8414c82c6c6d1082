// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"fmt"
	"time"
)

// PeerType distinguishes the two contact directories. Contact ids are NOT
// globally unique: an employee and a client may share the same numeric id,
// so identity is always the (id, type) pair.
type PeerType string

const (
	PeerEmployee PeerType = "employee"
	PeerClient   PeerType = "client"
)

// Presence is the directory-level availability of a contact.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceOffline Presence = "offline"
)

// DeliveryState tracks a message through its send lifecycle. A message is
// created as DeliveryPending on user send and promoted as confirmations
// arrive. DeliveryFailed is entered when the persist call errors or times
// out, so a dead backend can't leave sends pending forever.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
	DeliveryFailed    DeliveryState = "failed"
)

// Contact is a row in the conversation directory.
type Contact struct {
	ID       string
	Type     PeerType
	Name     string
	Role     string
	Presence Presence
}

// Key returns the directory identity of the contact.
func (c Contact) Key() ContactKey {
	return ContactKey{ID: c.ID, Type: c.Type}
}

// ContactKey is the (id, type) pair that identifies a contact.
type ContactKey struct {
	ID   string
	Type PeerType
}

func (k ContactKey) String() string {
	return fmt.Sprintf("%s/%s", string(k.Type), k.ID)
}

// Attachment is a file reference carried by a message. Staged (pre-send)
// attachments live in the Stager until the send completes.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	MIME string `json:"mimeType,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is one entry in a conversation log.
//
// Exactly one of two identity shapes holds at any time: either ID is set
// (server-confirmed), or only LocalID is set and Delivery is pending/failed.
// LocalID is generated client-side on send and is the reconciliation key that
// merges the optimistic copy with the push echo or the REST confirmation.
type Message struct {
	ID             string
	LocalID        string
	ConversationID string
	SenderID       string
	SenderType     PeerType
	Text           string
	Attachments    []Attachment
	CreatedAt      time.Time
	Delivery       DeliveryState
	Reactions      map[string]int
	Edited         bool
	ReplyToID      string
}

// IsConfirmed reports whether the server has assigned a durable id.
func (m *Message) IsConfirmed() bool {
	return m.ID != ""
}

// RefID is the identifier other messages use to reference this one:
// the durable id when confirmed, the local id otherwise.
func (m *Message) RefID() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalID
}

// clone returns a shallow copy with its own reactions map, so read-model
// snapshots can't be mutated behind the store's back.
func (m *Message) clone() *Message {
	cp := *m
	if m.Reactions != nil {
		cp.Reactions = make(map[string]int, len(m.Reactions))
		for k, v := range m.Reactions {
			cp.Reactions[k] = v
		}
	}
	cp.Attachments = append([]Attachment(nil), m.Attachments...)
	return &cp
}
