package offline

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// PendingChange is a change made while offline, waiting for background sync.
type PendingChange struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PendingQueue is the structured-storage area holding pending changes.
type PendingQueue interface {
	// Enqueue appends a change.
	Enqueue(ctx context.Context, kind string, payload json.RawMessage) error

	// Pending returns queued changes, oldest first.
	Pending(ctx context.Context) ([]PendingChange, error)

	// Clear removes queued changes with ID <= upToID. Changes enqueued
	// after a Pending snapshot keep higher IDs and survive.
	Clear(ctx context.Context, upToID int64) error
}

// SyncFunc forwards one pending change to the server.
type SyncFunc func(ctx context.Context, change PendingChange) error

// MemoryQueue is an in-process PendingQueue.
type MemoryQueue struct {
	mu      sync.Mutex
	changes []PendingChange
	nextID  int64
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{nextID: 1}
}

// Enqueue implements PendingQueue.
func (q *MemoryQueue) Enqueue(_ context.Context, kind string, payload json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.nextID == 0 {
		q.nextID = 1
	}
	q.changes = append(q.changes, PendingChange{
		ID:        q.nextID,
		Kind:      kind,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now().UTC(),
	})
	q.nextID++
	return nil
}

// Pending implements PendingQueue.
func (q *MemoryQueue) Pending(context.Context) ([]PendingChange, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingChange(nil), q.changes...), nil
}

// Clear implements PendingQueue.
func (q *MemoryQueue) Clear(_ context.Context, upToID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.changes[:0]
	for _, c := range q.changes {
		if c.ID > upToID {
			kept = append(kept, c)
		}
	}
	q.changes = kept
	return nil
}
