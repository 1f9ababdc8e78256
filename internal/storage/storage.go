// Package storage defines Area, the durable string key-value area that backs
// the persistent key-value store.
//
// An Area behaves like an origin-scoped local storage: values are opaque
// strings (JSON text in practice), keys are flat strings, and every operation
// may fail when the underlying medium is full, disabled, or unreachable.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnavailable indicates the area cannot be used at all (disabled by
	// configuration, closed, or its backend is unreachable).
	ErrUnavailable = errors.New("storage area unavailable")

	// ErrQuotaExceeded indicates a write was rejected because the area is full.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Area is a durable key-value area for string values.
type Area interface {
	// GetItem returns the value stored under key.
	// ok is false when the key is absent.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Keys returns all keys that start with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Memory is an in-process Area. A zero MaxBytes means no quota.
type Memory struct {
	MaxBytes int

	mu   sync.RWMutex
	data map[string]string
	size int
}

// NewMemory creates an empty in-memory area.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// GetItem implements Area.
func (m *Memory) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// SetItem implements Area.
func (m *Memory) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}

	next := m.size + len(key) + len(value)
	if old, ok := m.data[key]; ok {
		next -= len(key) + len(old)
	}
	if m.MaxBytes > 0 && next > m.MaxBytes {
		return ErrQuotaExceeded
	}

	m.data[key] = value
	m.size = next
	return nil
}

// RemoveItem implements Area.
func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.size -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}

// Keys implements Area.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Disabled is an Area whose every operation fails with ErrUnavailable.
// It models a persisted store turned off by privacy settings.
type Disabled struct{}

// GetItem implements Area.
func (Disabled) GetItem(context.Context, string) (string, bool, error) {
	return "", false, ErrUnavailable
}

// SetItem implements Area.
func (Disabled) SetItem(context.Context, string, string) error { return ErrUnavailable }

// RemoveItem implements Area.
func (Disabled) RemoveItem(context.Context, string) error { return ErrUnavailable }

// Keys implements Area.
func (Disabled) Keys(context.Context, string) ([]string, error) { return nil, ErrUnavailable }
