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
	"testing"
	"time"
)

func TestParseInboundEvent(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		check func(t *testing.T, evt InboundEvent)
	}{
		{
			name:  "connected",
			frame: `{"event":"connected"}`,
			check: func(t *testing.T, evt InboundEvent) {
				if _, ok := evt.(ConnectedEvent); !ok {
					t.Fatalf("got %T", evt)
				}
			},
		},
		{
			name: "message_received",
			frame: `{"event":"message_received","data":{"id":"m1","localId":"l1","conversationId":"c1",` +
				`"sender":{"id":"7","type":"client"},"text":"hi","createdAt":1780000000000,"deliveryState":"sent"}}`,
			check: func(t *testing.T, evt InboundEvent) {
				e, ok := evt.(MessageReceivedEvent)
				if !ok {
					t.Fatalf("got %T", evt)
				}
				m := e.Message
				if m.ID != "m1" || m.LocalID != "l1" || m.ConversationID != "c1" {
					t.Fatalf("ids wrong: %+v", m)
				}
				if m.SenderID != "7" || m.SenderType != PeerClient {
					t.Fatalf("sender wrong: %+v", m)
				}
				if m.CreatedAt.UnixMilli() != 1780000000000 {
					t.Fatalf("createdAt = %d", m.CreatedAt.UnixMilli())
				}
			},
		},
		{
			name:  "message without explicit delivery defaults to sent",
			frame: `{"event":"message_received","data":{"id":"m2","conversationId":"c1","sender":{"id":"7","type":"client"},"text":"x"}}`,
			check: func(t *testing.T, evt InboundEvent) {
				m := evt.(MessageReceivedEvent).Message
				if m.Delivery != DeliverySent {
					t.Fatalf("delivery = %q", m.Delivery)
				}
			},
		},
		{
			name:  "typing",
			frame: `{"event":"typing","data":{"conversationId":"c3"}}`,
			check: func(t *testing.T, evt InboundEvent) {
				e, ok := evt.(TypingEvent)
				if !ok || e.ConversationID != "c3" {
					t.Fatalf("got %T %+v", evt, evt)
				}
			},
		},
		{
			name:  "stop_typing",
			frame: `{"event":"stop_typing"}`,
			check: func(t *testing.T, evt InboundEvent) {
				if _, ok := evt.(StopTypingEvent); !ok {
					t.Fatalf("got %T", evt)
				}
			},
		},
		{
			name:  "reaction",
			frame: `{"event":"reaction","data":{"messageId":"m1","emoji":"👍","conversationId":"c1"}}`,
			check: func(t *testing.T, evt InboundEvent) {
				e, ok := evt.(ReactionEvent)
				if !ok || e.MessageID != "m1" || e.Emoji != "👍" {
					t.Fatalf("got %T %+v", evt, evt)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := ParseInboundEvent([]byte(tc.frame))
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			tc.check(t, evt)
		})
	}
}

func TestParseInboundEventRejectsUnknown(t *testing.T) {
	if _, err := ParseInboundEvent([]byte(`{"event":"presence_blast"}`)); err == nil {
		t.Fatal("unknown event names must error, not pass silently")
	}
	if _, err := ParseInboundEvent([]byte(`not json`)); err == nil {
		t.Fatal("garbage frames must error")
	}
}

func TestOutboundFrameContract(t *testing.T) {
	t.Run("setup", func(t *testing.T) {
		frame, err := marshalSetup("42", PeerEmployee)
		if err != nil {
			t.Fatal(err)
		}
		var env struct {
			Event string `json:"event"`
			Data  struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatal(err)
		}
		if env.Event != "setup" || env.Data.ID != "42" || env.Data.Type != "employee" {
			t.Fatalf("setup frame wrong: %s", frame)
		}
	})

	t.Run("join_chat", func(t *testing.T) {
		frame, err := marshalJoinChat("conv-1")
		if err != nil {
			t.Fatal(err)
		}
		var env struct {
			Event string `json:"event"`
			Data  struct {
				ConversationID string `json:"conversationId"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatal(err)
		}
		if env.Event != "join_chat" || env.Data.ConversationID != "conv-1" {
			t.Fatalf("join_chat frame wrong: %s", frame)
		}
	})

	t.Run("new_message", func(t *testing.T) {
		m := &Message{
			LocalID:        "l1",
			ConversationID: "conv-1",
			SenderID:       "42",
			SenderType:     PeerEmployee,
			Text:           "hello",
			ReplyToID:      "m0",
			CreatedAt:      time.UnixMilli(1780000000000).UTC(),
			Delivery:       DeliveryPending,
		}
		frame, err := marshalNewMessage(m)
		if err != nil {
			t.Fatal(err)
		}
		var env struct {
			Event string      `json:"event"`
			Data  wireMessage `json:"data"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatal(err)
		}
		if env.Event != "new_message" {
			t.Fatalf("event name %q", env.Event)
		}
		d := env.Data
		if d.ConversationID != "conv-1" || d.Sender.ID != "42" || d.Sender.Type != PeerEmployee {
			t.Fatalf("payload wrong: %+v", d)
		}
		if d.Text != "hello" || d.ReplyToID != "m0" || d.LocalID != "l1" {
			t.Fatalf("payload wrong: %+v", d)
		}
	})

	t.Run("reaction", func(t *testing.T) {
		frame, err := marshalReaction("conv-1", "m1", "🎉")
		if err != nil {
			t.Fatal(err)
		}
		var env struct {
			Event string `json:"event"`
			Data  struct {
				MessageID      string `json:"messageId"`
				Emoji          string `json:"emoji"`
				ConversationID string `json:"conversationId"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatal(err)
		}
		if env.Event != "reaction" || env.Data.MessageID != "m1" || env.Data.Emoji != "🎉" || env.Data.ConversationID != "conv-1" {
			t.Fatalf("reaction frame wrong: %s", frame)
		}
	})
}

func TestWireMessageRoundTrip(t *testing.T) {
	in := &Message{
		ID:             "m1",
		LocalID:        "l1",
		ConversationID: "c1",
		SenderID:       "7",
		SenderType:     PeerClient,
		Text:           "body",
		CreatedAt:      time.UnixMilli(1780000000123).UTC(),
		Delivery:       DeliveryRead,
		Reactions:      map[string]int{"👍": 2},
		Edited:         true,
		ReplyToID:      "m0",
	}
	data, err := json.Marshal(messageToWire(in))
	if err != nil {
		t.Fatal(err)
	}
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		t.Fatal(err)
	}
	out := wm.toMessage()
	if out.ID != in.ID || out.LocalID != in.LocalID || out.Text != in.Text ||
		out.Delivery != in.Delivery || !out.Edited || out.ReplyToID != in.ReplyToID {
		t.Fatalf("round trip lost fields: %+v", out)
	}
	if out.CreatedAt.UnixMilli() != in.CreatedAt.UnixMilli() {
		t.Fatalf("timestamp drifted: %d vs %d", out.CreatedAt.UnixMilli(), in.CreatedAt.UnixMilli())
	}
	if out.Reactions["👍"] != 2 {
		t.Fatalf("reactions lost: %+v", out.Reactions)
	}
}
