// Package archive mirrors channel messages into a local SQLite file
// for offline inspection. The runtime only ever writes; the query
// helpers exist for operational tooling and tests.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/parley/pkg/models"
)

const schema = `CREATE TABLE IF NOT EXISTS channel_messages (
	session_id TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	channel    TEXT NOT NULL,
	content    TEXT NOT NULL,
	agent_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	metadata   TEXT NOT NULL,
	PRIMARY KEY (session_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_channel_messages_session
	ON channel_messages (session_id, sequence);`

// Archive is a write-mostly SQLite mirror of channel traffic.
type Archive struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Open creates or opens the archive file and ensures the schema.
func Open(ctx context.Context, path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	insert, err := db.PrepareContext(ctx, `INSERT OR REPLACE INTO channel_messages
		(session_id, sequence, channel, content, agent_id, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare archive insert: %w", err)
	}
	return &Archive{db: db, insert: insert}, nil
}

// Store inserts one emitted message.
func (a *Archive) Store(ctx context.Context, sessionID string, msg models.ChannelMessage) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = a.insert.ExecContext(ctx,
		sessionID, msg.Sequence, string(msg.Channel), msg.Content,
		msg.Metadata.AgentID, msg.Metadata.Timestamp.UnixMilli(), string(meta))
	return err
}

// Recent returns up to limit messages for a session, oldest first.
func (a *Archive) Recent(ctx context.Context, sessionID string, limit int) ([]models.ChannelMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `SELECT sequence, channel, content, metadata
		FROM channel_messages WHERE session_id = ?
		ORDER BY sequence DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChannelMessage
	for rows.Next() {
		var msg models.ChannelMessage
		var channel, meta string
		if err := rows.Scan(&msg.Sequence, &channel, &msg.Content, &meta); err != nil {
			return nil, err
		}
		msg.Channel = models.Channel(channel)
		if err := json.Unmarshal([]byte(meta), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into ascending sequence order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases the prepared statement and database handle.
func (a *Archive) Close() error {
	if a.insert != nil {
		a.insert.Close()
	}
	return a.db.Close()
}
