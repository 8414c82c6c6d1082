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

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// pushChannel wraps the websocket connection carrying push events. One
// channel serves the whole session; conversation rooms are joined on top of
// it and accumulate until disconnect.
type pushChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	log     zerolog.Logger
}

func dialPushChannel(ctx context.Context, url string, log zerolog.Logger) (*pushChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial push channel: %w", err)
	}
	return &pushChannel{
		conn: conn,
		log:  log.With().Str("component", "push_channel").Logger(),
	}, nil
}

// send writes one frame. Gorilla connections allow a single concurrent
// writer, hence the mutex.
func (p *pushChannel) send(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop delivers raw frames to handle until the connection drops, then
// calls onClose exactly once. Runs on its own goroutine.
func (p *pushChannel) readLoop(handle func([]byte), onClose func(error)) {
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			onClose(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}

func (p *pushChannel) close() {
	p.writeMu.Lock()
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	p.writeMu.Unlock()
	_ = p.conn.Close()
}
