package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KV is the kv_items table viewed as a storage.Area.
type KV struct {
	db *DB
}

// KV returns the persisted key-value area.
func (db *DB) KV() *KV {
	return &KV{db: db}
}

// GetItem implements storage.Area.
func (k *KV) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := k.db.conn.QueryRowContext(ctx, `SELECT value FROM kv_items WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, classify(err))
	}
	return value, true, nil
}

// SetItem implements storage.Area.
func (k *KV) SetItem(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO kv_items (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := k.db.conn.ExecContext(ctx, query, key, value, formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, classify(err))
	}
	return nil
}

// RemoveItem implements storage.Area.
func (k *KV) RemoveItem(ctx context.Context, key string) error {
	if _, err := k.db.conn.ExecContext(ctx, `DELETE FROM kv_items WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, classify(err))
	}
	return nil
}

// Keys implements storage.Area.
func (k *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := k.db.conn.QueryContext(ctx,
		`SELECT key FROM kv_items WHERE key LIKE ? ESCAPE '\' ORDER BY key`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", classify(err))
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
