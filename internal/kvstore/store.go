package kvstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/mschirtzinger/menuboard/internal/pubsub"
	"github.com/mschirtzinger/menuboard/internal/storage"
)

// Topic is the bus topic storage events are published on.
const Topic = "storage"

// DefaultPrefix namespaces every persisted key.
const DefaultPrefix = "menuboard"

// StorageEvent describes a change to one persisted key.
type StorageEvent struct {
	// Key is the full, prefixed key.
	Key string `json:"key"`

	// OldValue is the JSON text before the change, nil if there was none.
	OldValue *string `json:"oldValue"`

	// NewValue is the JSON text after the change, nil for deletions.
	NewValue *string `json:"newValue"`
}

// Config holds Store configuration.
type Config struct {
	// Prefix namespaces keys in the area (default: "menuboard").
	Prefix string

	// ContextID identifies this Store on the bus (default: random).
	ContextID string

	// Logger for warnings (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Prefix: DefaultPrefix,
		Logger: log.New(os.Stderr, "[kvstore] ", log.LstdFlags),
	}
}

// Store is one browsing context over a shared persisted area.
type Store struct {
	area   storage.Area
	bus    pubsub.Bus
	prefix string
	id     string
	logger *log.Logger

	mu      sync.Mutex
	closers []func()
	closed  bool
}

// New creates a Store. bus may be nil, in which case the Store neither
// publishes nor receives cross-context events.
func New(area storage.Area, bus pubsub.Bus, config *Config) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	if area == nil {
		area = storage.Disabled{}
	}
	prefix := config.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	id := config.ContextID
	if id == "" {
		id = newContextID()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Store{
		area:   area,
		bus:    bus,
		prefix: prefix,
		id:     id,
		logger: logger,
	}
}

// ID returns the context ID used as event origin.
func (s *Store) ID() string {
	return s.id
}

// Key returns the persisted key for a logical key.
func (s *Store) Key(key string) string {
	return s.prefix + ":" + key
}

// Read returns the persisted JSON for key. ok is false when the key is
// absent, the area failed, or the stored text is not valid JSON; the latter
// two are logged.
func (s *Store) Read(ctx context.Context, key string) (json.RawMessage, bool) {
	full := s.Key(key)
	raw, ok, err := s.area.GetItem(ctx, full)
	if err != nil {
		s.logger.Printf("Warning: failed to read %s: %v", full, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if !json.Valid([]byte(raw)) {
		s.logger.Printf("Warning: ignoring malformed value for %s", full)
		return nil, false
	}
	return json.RawMessage(raw), true
}

// Write persists raw under key and notifies other contexts.
// It reports whether the value reached the area.
func (s *Store) Write(ctx context.Context, key string, raw json.RawMessage) bool {
	full := s.Key(key)
	old := s.peek(ctx, full)
	if !s.persist(ctx, full, raw) {
		return false
	}
	s.publish(ctx, full, old, raw)
	return true
}

// Delete removes key from the area. Deletions are published with a nil new
// value, which other contexts ignore.
func (s *Store) Delete(ctx context.Context, key string) {
	full := s.Key(key)
	old := s.peek(ctx, full)
	s.remove(ctx, full)
	s.publish(ctx, full, old, nil)
}

// Keys lists the logical keys currently persisted under the Store prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	fulls, err := s.area.Keys(ctx, s.prefix+":")
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(fulls))
	for i, k := range fulls {
		keys[i] = k[len(s.prefix)+1:]
	}
	return keys, nil
}

// Watch calls fn for every storage event from other contexts on key,
// including deletions. It returns a cancel function.
func (s *Store) Watch(key string, fn func(StorageEvent)) func() {
	full := s.Key(key)
	return s.subscribe(func(se StorageEvent) {
		if se.Key == full {
			fn(se)
		}
	})
}

// Close removes every bus subscription made through this Store.
func (s *Store) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.closed = true
	s.mu.Unlock()

	for _, c := range closers {
		c()
	}
	return nil
}

// subscribe registers fn for storage events from other contexts.
func (s *Store) subscribe(fn func(StorageEvent)) func() {
	if s.bus == nil {
		return func() {}
	}

	unsub, err := s.bus.Subscribe(Topic, func(ev pubsub.Event) {
		if ev.Origin == s.id {
			return
		}
		var se StorageEvent
		if err := json.Unmarshal(ev.Payload, &se); err != nil {
			s.logger.Printf("Warning: dropping malformed storage event: %v", err)
			return
		}
		fn(se)
	})
	if err != nil {
		s.logger.Printf("Warning: cross-context sync disabled: %v", err)
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		unsub()
		return func() {}
	}
	s.closers = append(s.closers, unsub)
	return unsub
}

func (s *Store) peek(ctx context.Context, full string) *string {
	raw, ok, err := s.area.GetItem(ctx, full)
	if err != nil || !ok {
		return nil
	}
	return &raw
}

func (s *Store) persist(ctx context.Context, full string, raw json.RawMessage) bool {
	if err := s.area.SetItem(ctx, full, string(raw)); err != nil {
		s.logger.Printf("Warning: failed to persist %s: %v", full, err)
		return false
	}
	return true
}

func (s *Store) remove(ctx context.Context, full string) {
	if err := s.area.RemoveItem(ctx, full); err != nil {
		s.logger.Printf("Warning: failed to remove %s: %v", full, err)
	}
}

func (s *Store) publish(ctx context.Context, full string, old *string, raw json.RawMessage) {
	if s.bus == nil {
		return
	}

	se := StorageEvent{Key: full, OldValue: old}
	if raw != nil {
		v := string(raw)
		se.NewValue = &v
	}
	payload, err := json.Marshal(se)
	if err != nil {
		s.logger.Printf("Warning: failed to encode storage event for %s: %v", full, err)
		return
	}
	if err := s.bus.Publish(ctx, pubsub.Event{Topic: Topic, Origin: s.id, Payload: payload}); err != nil {
		s.logger.Printf("Warning: failed to publish change to %s: %v", full, err)
	}
}

func newContextID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
