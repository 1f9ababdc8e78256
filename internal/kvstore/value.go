package kvstore

import (
	"context"
	"encoding/json"
	"sync"
)

// Value is a typed, persisted value bound to one key of a Store.
//
// The value returned by Get is shared with the Value; callers must not
// mutate it in place. Use Update to derive a new value from the current one.
type Value[V any] struct {
	store *Store
	key   string
	full  string
	def   V

	mu  sync.Mutex
	cur V

	watchMu  sync.Mutex
	watchers map[int]func(V)
	nextID   int

	unsubscribe func()
}

// Open binds a Value to key, hydrating it from the Store's area. The default
// is used when nothing usable is persisted.
func Open[V any](ctx context.Context, s *Store, key string, def V) *Value[V] {
	v := &Value[V]{
		store:    s,
		key:      key,
		full:     s.Key(key),
		def:      clone(def),
		watchers: make(map[int]func(V)),
	}
	v.cur = v.hydrate(ctx)
	v.unsubscribe = s.subscribe(v.onStorage)
	return v
}

// Key returns the logical key.
func (v *Value[V]) Key() string {
	return v.key
}

// Get returns the current in-memory value.
func (v *Value[V]) Get() V {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set replaces the value.
func (v *Value[V]) Set(ctx context.Context, val V) {
	v.Update(ctx, func(V) V { return val })
}

// Update replaces the value with fn applied to the current value. fn runs
// under the Value's lock, so concurrent updates never lose each other.
func (v *Value[V]) Update(ctx context.Context, fn func(prev V) V) {
	next, old, raw, persisted := v.apply(ctx, fn)

	// Publish outside the lock: synchronous buses may call straight back into
	// another context that writes to us.
	if persisted {
		v.store.publish(ctx, v.full, old, raw)
	}
	v.notify(next)
}

// apply runs fn and persists its result. A panicking fn leaves the value
// unchanged and the lock released.
func (v *Value[V]) apply(ctx context.Context, fn func(prev V) V) (next V, old *string, raw []byte, persisted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := v.cur
	old = v.encodeLocked(prev)
	next = fn(prev)
	v.cur = next

	raw, err := json.Marshal(next)
	if err != nil {
		v.store.logger.Printf("Warning: failed to encode %s: %v", v.full, err)
		return next, old, nil, false
	}
	return next, old, raw, v.store.persist(ctx, v.full, raw)
}

// Delete resets the value to its default and removes the persisted copy.
func (v *Value[V]) Delete(ctx context.Context) {
	v.mu.Lock()
	old := v.encodeLocked(v.cur)
	v.cur = clone(v.def)
	cur := v.cur
	v.store.remove(ctx, v.full)
	v.mu.Unlock()

	v.store.publish(ctx, v.full, old, nil)
	v.notify(cur)
}

// Subscribe calls fn with the new value after every local write, delete, or
// applied cross-context change. It returns a cancel function.
func (v *Value[V]) Subscribe(fn func(V)) func() {
	v.watchMu.Lock()
	defer v.watchMu.Unlock()
	id := v.nextID
	v.nextID++
	v.watchers[id] = fn

	return func() {
		v.watchMu.Lock()
		delete(v.watchers, id)
		v.watchMu.Unlock()
	}
}

// Close stops cross-context synchronization for this Value.
func (v *Value[V]) Close() {
	v.unsubscribe()
}

func (v *Value[V]) hydrate(ctx context.Context) V {
	raw, ok := v.store.Read(ctx, v.key)
	if !ok {
		return clone(v.def)
	}
	var out V
	if err := json.Unmarshal(raw, &out); err != nil {
		v.store.logger.Printf("Warning: failed to decode %s, using default: %v", v.full, err)
		return clone(v.def)
	}
	return out
}

func (v *Value[V]) onStorage(se StorageEvent) {
	if se.Key != v.full || se.NewValue == nil {
		return
	}

	var next V
	if err := json.Unmarshal([]byte(*se.NewValue), &next); err != nil {
		v.store.logger.Printf("Warning: malformed change for %s, using default: %v", v.full, err)
		next = clone(v.def)
	}

	v.mu.Lock()
	v.cur = next
	v.mu.Unlock()
	v.notify(next)
}

func (v *Value[V]) encodeLocked(val V) *string {
	raw, err := json.Marshal(val)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

func (v *Value[V]) notify(val V) {
	v.watchMu.Lock()
	fns := make([]func(V), 0, len(v.watchers))
	for _, fn := range v.watchers {
		fns = append(fns, fn)
	}
	v.watchMu.Unlock()

	for _, fn := range fns {
		fn(val)
	}
}

// clone returns a deep copy of val through its JSON form, so resets never
// hand out the default's backing storage. Values that do not round-trip are
// returned as is.
func clone[V any](val V) V {
	raw, err := json.Marshal(val)
	if err != nil {
		return val
	}
	var out V
	if err := json.Unmarshal(raw, &out); err != nil {
		return val
	}
	return out
}
