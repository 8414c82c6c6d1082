// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"encoding/json"
	"fmt"

	"go.mau.fi/util/jsontime"
)

// Push channel event names. These are the server's wire contract and must
// not be renamed.
const (
	evtSetup           = "setup"
	evtJoinChat        = "join_chat"
	evtNewMessage      = "new_message"
	evtReaction        = "reaction"
	evtConnected       = "connected"
	evtMessageReceived = "message_received"
	evtTyping          = "typing"
	evtStopTyping      = "stop_typing"
)

// eventEnvelope is the outer frame shared by every push channel event.
type eventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wireSender identifies a message author on the wire.
type wireSender struct {
	ID   string   `json:"id"`
	Type PeerType `json:"type"`
}

// wireMessage is the JSON shape of a message on both the push channel and
// the REST history/persist layer.
type wireMessage struct {
	ID             string             `json:"id,omitempty"`
	LocalID        string             `json:"localId,omitempty"`
	ConversationID string             `json:"conversationId"`
	Sender         wireSender         `json:"sender"`
	Text           string             `json:"text"`
	Attachments    []Attachment       `json:"attachments,omitempty"`
	ReplyToID      string             `json:"replyToId,omitempty"`
	CreatedAt      jsontime.UnixMilli `json:"createdAt,omitempty"`
	DeliveryState  DeliveryState      `json:"deliveryState,omitempty"`
	Reactions      map[string]int     `json:"reactions,omitempty"`
	Edited         bool               `json:"edited,omitempty"`
}

func (w *wireMessage) toMessage() *Message {
	msg := &Message{
		ID:             w.ID,
		LocalID:        w.LocalID,
		ConversationID: w.ConversationID,
		SenderID:       w.Sender.ID,
		SenderType:     w.Sender.Type,
		Text:           w.Text,
		Attachments:    w.Attachments,
		CreatedAt:      w.CreatedAt.Time,
		Delivery:       w.DeliveryState,
		Reactions:      w.Reactions,
		Edited:         w.Edited,
		ReplyToID:      w.ReplyToID,
	}
	if msg.Delivery == "" && msg.ID != "" {
		msg.Delivery = DeliverySent
	}
	return msg
}

func messageToWire(m *Message) *wireMessage {
	return &wireMessage{
		ID:             m.ID,
		LocalID:        m.LocalID,
		ConversationID: m.ConversationID,
		Sender:         wireSender{ID: m.SenderID, Type: m.SenderType},
		Text:           m.Text,
		Attachments:    m.Attachments,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      jsontime.UM(m.CreatedAt),
		DeliveryState:  m.Delivery,
		Reactions:      m.Reactions,
		Edited:         m.Edited,
	}
}

// InboundEvent is the tagged variant for everything the push channel can
// deliver. The transport used to hand out dynamically shaped objects; the
// closed set of types below replaces that.
type InboundEvent interface {
	isInboundEvent()
}

// ConnectedEvent acknowledges the setup frame; the channel is usable once
// this arrives.
type ConnectedEvent struct{}

// MessageReceivedEvent carries a live message for a joined conversation room.
type MessageReceivedEvent struct {
	Message *Message
}

// TypingEvent signals that the counterpart in the given conversation is
// composing.
type TypingEvent struct {
	ConversationID string
}

// StopTypingEvent clears the typing indicator.
type StopTypingEvent struct{}

// ReactionEvent is a counterpart's reaction echoed back to the room, so
// both stores converge on the aggregate counters.
type ReactionEvent struct {
	MessageID      string
	Emoji          string
	ConversationID string
}

func (ConnectedEvent) isInboundEvent()       {}
func (MessageReceivedEvent) isInboundEvent() {}
func (TypingEvent) isInboundEvent()          {}
func (StopTypingEvent) isInboundEvent()      {}
func (ReactionEvent) isInboundEvent()        {}

// ParseInboundEvent decodes one push channel frame into its typed variant.
// Unknown event names are an error so protocol drift surfaces in logs
// instead of being silently dropped.
func ParseInboundEvent(frame []byte) (InboundEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	switch env.Event {
	case evtConnected:
		return ConnectedEvent{}, nil
	case evtMessageReceived:
		var wm wireMessage
		if err := json.Unmarshal(env.Data, &wm); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", evtMessageReceived, err)
		}
		return MessageReceivedEvent{Message: wm.toMessage()}, nil
	case evtTyping:
		var data struct {
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", evtTyping, err)
		}
		return TypingEvent{ConversationID: data.ConversationID}, nil
	case evtStopTyping:
		return StopTypingEvent{}, nil
	case evtReaction:
		var data struct {
			MessageID      string `json:"messageId"`
			Emoji          string `json:"emoji"`
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", evtReaction, err)
		}
		return ReactionEvent{MessageID: data.MessageID, Emoji: data.Emoji, ConversationID: data.ConversationID}, nil
	default:
		return nil, fmt.Errorf("unknown push event %q", env.Event)
	}
}

func marshalEvent(name string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", name, err)
		}
		raw = encoded
	}
	frame, err := json.Marshal(eventEnvelope{Event: name, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", name, err)
	}
	return frame, nil
}

func marshalSetup(id string, peerType PeerType) ([]byte, error) {
	return marshalEvent(evtSetup, wireSender{ID: id, Type: peerType})
}

func marshalJoinChat(conversationID string) ([]byte, error) {
	return marshalEvent(evtJoinChat, struct {
		ConversationID string `json:"conversationId"`
	}{conversationID})
}

func marshalNewMessage(m *Message) ([]byte, error) {
	return marshalEvent(evtNewMessage, messageToWire(m))
}

func marshalReaction(conversationID, messageID, emoji string) ([]byte, error) {
	return marshalEvent(evtReaction, struct {
		MessageID      string `json:"messageId"`
		Emoji          string `json:"emoji"`
		ConversationID string `json:"conversationId"`
	}{messageID, emoji, conversationID})
}
