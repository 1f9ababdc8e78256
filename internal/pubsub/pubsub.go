// Package pubsub defines the narrow publish/subscribe interface used for
// cross-context change notifications, and an in-process implementation.
//
// Transports are interchangeable: Local delivers inside one process,
// redisbus delivers through Redis channels, and spool delivers between
// processes sharing a directory. Callers only see Publish and Subscribe.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("pubsub: bus closed")

// Event is a single notification published on a topic.
type Event struct {
	// Topic the event was published on.
	Topic string `json:"topic"`

	// Origin identifies the publishing context. Receivers use it to ignore
	// their own events.
	Origin string `json:"origin"`

	// Payload is the topic-specific JSON body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives events for a subscribed topic.
// Handlers must not block for long; slow work belongs on a goroutine.
type Handler func(Event)

// Bus publishes events to every subscriber of a topic.
type Bus interface {
	// Publish delivers ev to all current subscribers of ev.Topic.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers h for topic. The returned function removes the
	// subscription and is safe to call more than once.
	Subscribe(topic string, h Handler) (unsubscribe func(), err error)

	// Close releases the bus. Subsequent calls fail with ErrClosed.
	Close() error
}

// Local is an in-process Bus. Delivery is synchronous and in subscription order.
type Local struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
	logger *log.Logger
}

// NewLocal creates an in-process bus. A nil logger uses log.Default().
func NewLocal(logger *log.Logger) *Local {
	if logger == nil {
		logger = log.Default()
	}
	return &Local{
		subs:   make(map[string]map[int]Handler),
		logger: logger,
	}
}

// Publish implements Bus.
func (b *Local) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.subs[ev.Topic]))
	for _, id := range sortedIDs(b.subs[ev.Topic]) {
		handlers = append(handlers, b.subs[ev.Topic][id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
	return nil
}

// Subscribe implements Bus.
func (b *Local) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
	}, nil
}

// Close implements Bus.
func (b *Local) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}

// deliver runs h and keeps a panicking handler from taking down the publisher.
func (b *Local) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("Warning: subscriber for %q panicked: %v", ev.Topic, r)
		}
	}()
	h(ev)
}

func sortedIDs(m map[int]Handler) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Dispatcher fans events out to the handlers registered per topic. Bus
// implementations that receive from an external transport share it.
type Dispatcher struct {
	local *Local
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	return &Dispatcher{local: NewLocal(logger)}
}

// Add registers h for topic.
func (d *Dispatcher) Add(topic string, h Handler) (func(), error) {
	return d.local.Subscribe(topic, h)
}

// Dispatch hands ev to every handler registered for ev.Topic.
func (d *Dispatcher) Dispatch(ev Event) {
	_ = d.local.Publish(context.Background(), ev)
}

// Close drops all handlers.
func (d *Dispatcher) Close() {
	_ = d.local.Close()
}
