// Package redisarea provides a storage.Area backed by Redis.
package redisarea

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mschirtzinger/menuboard/internal/storage"
)

// Area stores items as plain Redis string keys.
type Area struct {
	client *redis.Client
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr string) (*Area, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Area{client: client}, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *redis.Client) *Area {
	return &Area{client: client}
}

// Client returns the underlying Redis client.
func (a *Area) Client() *redis.Client {
	return a.client
}

// GetItem implements storage.Area.
func (a *Area) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return val, true, nil
}

// SetItem implements storage.Area. Items never expire.
func (a *Area) SetItem(ctx context.Context, key, value string) error {
	if err := a.client.Set(ctx, key, value, 0).Err(); err != nil {
		if isOOM(err) {
			return fmt.Errorf("%w: %v", storage.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// RemoveItem implements storage.Area.
func (a *Area) RemoveItem(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Keys implements storage.Area using SCAN so large keyspaces are not blocked.
func (a *Area) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := a.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the Redis connection.
func (a *Area) Close() error {
	return a.client.Close()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the glob metacharacters of a SCAN MATCH pattern.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

func isOOM(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return strings.HasPrefix(rerr.Error(), "OOM")
	}
	return false
}
