package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mschirtzinger/menuboard/internal/offline"
)

// Caches stores the offline coordinator's buckets. It implements
// offline.CacheStorage.
type Caches struct {
	db *DB
}

// CacheStorage returns the bucket storage.
func (db *DB) CacheStorage() *Caches {
	return &Caches{db: db}
}

// Open implements offline.CacheStorage.
func (c *Caches) Open(ctx context.Context, name string) (offline.Bucket, error) {
	_, err := c.db.conn.ExecContext(ctx,
		`INSERT INTO cache_buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, formatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", name, classify(err))
	}
	return &bucket{db: c.db, name: name}, nil
}

// Has implements offline.CacheStorage.
func (c *Caches) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := c.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_buckets WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check bucket %s: %w", name, classify(err))
	}
	return n > 0, nil
}

// Delete implements offline.CacheStorage. Entries go with the bucket.
func (c *Caches) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := c.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE bucket = ?`, name); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", name, classify(err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_buckets WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete bucket %s: %w", name, classify(err))
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Keys implements offline.CacheStorage.
func (c *Caches) Keys(ctx context.Context) ([]string, error) {
	return c.db.queryStrings(ctx, `SELECT name FROM cache_buckets ORDER BY name`)
}

// EntryCount returns the number of entries in bucket name.
func (c *Caches) EntryCount(ctx context.Context, name string) (int, error) {
	var n int
	err := c.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE bucket = ?`, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries in %s: %w", name, err)
	}
	return n, nil
}

type bucket struct {
	db   *DB
	name string
}

func (b *bucket) Match(ctx context.Context, key string) (*offline.CachedResponse, bool, error) {
	var (
		status         int
		header, stored string
		body           []byte
	)
	err := b.db.conn.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM cache_entries WHERE bucket = ? AND request_key = ?`,
		b.name, key).Scan(&status, &header, &body, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to match %s in %s: %w", key, b.name, classify(err))
	}

	var h http.Header
	if err := json.Unmarshal([]byte(header), &h); err != nil {
		return nil, false, fmt.Errorf("corrupt header for %s in %s: %w", key, b.name, err)
	}
	return &offline.CachedResponse{
		URL:      key,
		Status:   status,
		Header:   h,
		Body:     body,
		StoredAt: parseTime(stored),
	}, true, nil
}

func (b *bucket) Put(ctx context.Context, key string, resp *offline.CachedResponse) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	stored := resp.StoredAt
	if stored.IsZero() {
		stored = time.Now()
	}

	query := `
	INSERT INTO cache_entries (bucket, request_key, status, header, body, stored_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(bucket, request_key) DO UPDATE SET
		status = excluded.status,
		header = excluded.header,
		body = excluded.body,
		stored_at = excluded.stored_at
	`
	_, err = b.db.conn.ExecContext(ctx, query, b.name, key, resp.Status, string(header), body, formatTime(stored))
	if err != nil {
		return fmt.Errorf("failed to put %s in %s: %w", key, b.name, classify(err))
	}
	return nil
}

func (b *bucket) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.db.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE bucket = ? AND request_key = ?`, b.name, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s from %s: %w", key, b.name, classify(err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *bucket) Keys(ctx context.Context) ([]string, error) {
	return b.db.queryStrings(ctx,
		`SELECT request_key FROM cache_entries WHERE bucket = ? ORDER BY request_key`, b.name)
}

func (db *DB) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", classify(err))
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
