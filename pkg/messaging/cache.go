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
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SeenCache persists delivered server message ids so push frames replayed
// across reconnects are recognized as known echoes and dropped. Without it,
// every reconnect would re-append whatever the server buffered while the
// client was offline and already delivered once.
type SeenCache struct {
	db *sql.DB
}

const seenSchema = `
CREATE TABLE IF NOT EXISTS seen_message (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	seen_at_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_seen_conversation ON seen_message (conversation_id);
`

// OpenSeenCache opens (creating if needed) the sqlite-backed cache at path.
// Use ":memory:" for an ephemeral cache.
func OpenSeenCache(path string) (*SeenCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seen cache: %w", err)
	}
	if _, err := db.Exec(seenSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init seen cache schema: %w", err)
	}
	return &SeenCache{db: db}, nil
}

// Has reports whether the message id was delivered before.
func (c *SeenCache) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, "SELECT 1 FROM seen_message WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remember records a delivered message id. Idempotent.
func (c *SeenCache) Remember(ctx context.Context, id, conversationID string, tsMs int64) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen_message (id, conversation_id, seen_at_ms) VALUES (?, ?, ?)",
		id, conversationID, tsMs)
	return err
}

// Prune drops entries older than beforeMs to keep the cache bounded.
func (c *SeenCache) Prune(ctx context.Context, beforeMs int64) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM seen_message WHERE seen_at_ms < ?", beforeMs)
	return err
}

// Close releases the underlying database.
func (c *SeenCache) Close() error {
	return c.db.Close()
}
