package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mschirtzinger/menuboard/internal/offline"
)

// Queue is the pending_changes table. It implements offline.PendingQueue.
type Queue struct {
	db *DB
}

// PendingQueue returns the background-sync queue.
func (db *DB) PendingQueue() *Queue {
	return &Queue{db: db}
}

// Enqueue implements offline.PendingQueue.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	_, err := q.db.conn.ExecContext(ctx,
		`INSERT INTO pending_changes (kind, payload, created_at) VALUES (?, ?, ?)`,
		kind, string(payload), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", kind, classify(err))
	}
	return nil
}

// Pending implements offline.PendingQueue.
func (q *Queue) Pending(ctx context.Context) ([]offline.PendingChange, error) {
	rows, err := q.db.conn.QueryContext(ctx,
		`SELECT id, kind, payload, created_at FROM pending_changes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending changes: %w", classify(err))
	}
	defer rows.Close()

	var changes []offline.PendingChange
	for rows.Next() {
		var (
			c                offline.PendingChange
			payload, created string
		)
		if err := rows.Scan(&c.ID, &c.Kind, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan pending change: %w", err)
		}
		c.Payload = json.RawMessage(payload)
		c.CreatedAt = parseTime(created)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Clear implements offline.PendingQueue.
func (q *Queue) Clear(ctx context.Context, upToID int64) error {
	if _, err := q.db.conn.ExecContext(ctx, `DELETE FROM pending_changes WHERE id <= ?`, upToID); err != nil {
		return fmt.Errorf("failed to clear pending changes: %w", classify(err))
	}
	return nil
}
