package recorder

import (
	"context"
	"fmt"
)

const createTable = `
CREATE TABLE IF NOT EXISTS realtime_messages (
    id          TEXT PRIMARY KEY,
    channel     TEXT NOT NULL,
    data        JSONB NOT NULL,
    sent_at     TIMESTAMPTZ NOT NULL,
    received_at TIMESTAMPTZ NOT NULL,
    source      TEXT NOT NULL DEFAULT ''
)`

const createIndex = `
CREATE INDEX IF NOT EXISTS realtime_messages_channel_received_idx
    ON realtime_messages (channel, received_at DESC)`

const insertRow = `
INSERT INTO realtime_messages (id, channel, data, sent_at, received_at, source)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

// EnsureSchema creates the realtime_messages table and its index if missing.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range []string{createTable, createIndex} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
