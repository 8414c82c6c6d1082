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

	"github.com/rs/zerolog"
)

// Session assembles one user's messaging state: the transport client, the
// message store, the directory, the composer, and the ephemeral trackers,
// wired together the way the dashboard consumes them.
//
// Event flow: selecting a contact runs Directory.Select (history fetch →
// store seed → room join); a composer send appends optimistically and
// confirms through the push echo or the REST response, whichever lands
// first; inbound push events fan out to the store, the directory counters,
// and the typing tracker.
type Session struct {
	Client    *Client
	Store     *Store
	Directory *Directory
	Composer  *Composer
	Typing    *TypingTracker
	Stager    *Stager
}

// NewSession builds and wires a full session from config.
func NewSession(cfg *Config, log zerolog.Logger) (*Session, error) {
	client, err := NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	store := NewStore(log)
	typing := NewTypingTracker(cfg.TypingTimeout())
	stager := NewStager()
	directory := NewDirectory(log, store, client, typing)
	composer := NewComposer(log, store, stager, client, cfg.UserID, cfg.UserType, cfg.SendTimeout())

	store.SetReactionSink(client.SendReaction)
	client.OnMessageReceived(func(m *Message) {
		if store.ApplyRemote(m) {
			directory.NotePush(m)
		}
	})
	client.OnTyping(typing.SetTyping)
	client.OnStopTyping(typing.Clear)
	client.OnReaction(func(e ReactionEvent) {
		store.ApplyReaction(e.MessageID, e.Emoji)
	})

	return &Session{
		Client:    client,
		Store:     store,
		Directory: directory,
		Composer:  composer,
		Typing:    typing,
		Stager:    stager,
	}, nil
}

// Start connects the push channel. A connect failure is returned but leaves
// the session usable: history fetches and persists still work REST-only,
// and sends reconcile from the REST response alone.
func (s *Session) Start(ctx context.Context) error {
	return s.Client.Connect(ctx)
}

// Close flushes in-flight persists and tears the transport down.
func (s *Session) Close() {
	s.Composer.Flush()
	s.Client.Disconnect()
}
