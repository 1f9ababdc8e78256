// Package redisbus implements pubsub.Bus over Redis pub/sub channels.
//
// Every topic maps to the channel "<prefix><topic>". A single pattern
// subscription receives all topics and hands them to the local dispatcher.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mschirtzinger/menuboard/internal/pubsub"
)

// DefaultChannelPrefix namespaces the bus channels.
const DefaultChannelPrefix = "menuboard:events:"

// Bus is a Redis-backed pubsub.Bus.
type Bus struct {
	client *redis.Client
	prefix string
	ps     *redis.PubSub
	disp   *pubsub.Dispatcher
	logger *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New subscribes to all bus channels and starts the receive loop.
// A nil logger uses log.Default(). An empty prefix uses DefaultChannelPrefix.
func New(ctx context.Context, client *redis.Client, prefix string, logger *log.Logger) (*Bus, error) {
	if logger == nil {
		logger = log.Default()
	}
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	ps := client.PSubscribe(ctx, prefix+"*")
	// Wait for the subscription confirmation so early publishes are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s*: %w", prefix, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		client: client,
		prefix: prefix,
		ps:     ps,
		disp:   pubsub.NewDispatcher(logger),
		logger: logger,
		cancel: cancel,
	}

	b.wg.Add(1)
	go b.receiveLoop(loopCtx)

	return b, nil
}

// Publish implements pubsub.Bus.
func (b *Bus) Publish(ctx context.Context, ev pubsub.Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return pubsub.ErrClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+ev.Topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", ev.Topic, err)
	}
	return nil
}

// Subscribe implements pubsub.Bus.
func (b *Bus) Subscribe(topic string, h pubsub.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, pubsub.ErrClosed
	}
	return b.disp.Add(topic, h)
}

// Close stops the receive loop and closes the subscription.
// The Redis client itself is left open for its owner.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.ps.Close()
	b.wg.Wait()
	b.disp.Close()
	return err
}

func (b *Bus) receiveLoop(ctx context.Context) {
	defer b.wg.Done()

	ch := b.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev pubsub.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Printf("Warning: dropping malformed event on %s: %v", msg.Channel, err)
				continue
			}
			if ev.Topic == "" {
				ev.Topic = strings.TrimPrefix(msg.Channel, b.prefix)
			}
			b.disp.Dispatch(ev)
		}
	}
}
