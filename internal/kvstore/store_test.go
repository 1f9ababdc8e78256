package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/menuboard/internal/pubsub"
	"github.com/mschirtzinger/menuboard/internal/storage"
)

type cartItem struct {
	ID  string `json:"id"`
	Qty int    `json:"qty,omitempty"`
}

// newTestStore creates a Store over area and bus with a discarded logger.
func newTestStore(t *testing.T, area storage.Area, bus pubsub.Bus, id string) *Store {
	t.Helper()
	s := New(area, bus, &Config{
		ContextID: id,
		Logger:    log.New(io.Discard, "", 0),
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// loggedStore creates a Store whose log output is captured.
func loggedStore(t *testing.T, area storage.Area) (*Store, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	s := New(area, nil, &Config{Logger: log.New(&buf, "", 0)})
	return s, &buf
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	values := []any{
		"dark",
		42.5,
		true,
		[]any{"a", 1.0},
		map[string]any{"tier": "ac", "count": 2.0},
	}

	for _, want := range values {
		area := storage.NewMemory()
		s := newTestStore(t, area, nil, "")
		v := Open[any](ctx, s, "pref", "default")

		v.Set(ctx, want)
		if got := v.Get(); !reflect.DeepEqual(got, want) {
			t.Errorf("Get() after Set(%v) = %v", want, got)
		}

		// A fresh open in a new context sees the persisted value too.
		reopened := Open[any](ctx, newTestStore(t, area, nil, ""), "pref", "default")
		if got := reopened.Get(); !reflect.DeepEqual(got, want) {
			t.Errorf("reopened Get() = %v, want %v", got, want)
		}
	}
}

func TestReadDefault(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		area storage.Area
	}{
		{"empty", storage.NewMemory()},
		{"disabled", storage.Disabled{}},
		{"nil area", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, tt.area, nil, "")
			v := Open(ctx, s, "cart-items", []cartItem{{ID: "default"}})
			want := []cartItem{{ID: "default"}}
			if got := v.Get(); !reflect.DeepEqual(got, want) {
				t.Errorf("Get() = %v, want %v", got, want)
			}
		})
	}
}

func TestMalformedPersistedValue(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemory()
	if err := area.SetItem(ctx, "menuboard:cart-items", "{not json"); err != nil {
		t.Fatal(err)
	}

	s, logs := loggedStore(t, area)
	v := Open(ctx, s, "cart-items", []cartItem{})
	if got := v.Get(); len(got) != 0 {
		t.Errorf("Get() = %v, want default", got)
	}
	if !strings.Contains(logs.String(), "Warning") {
		t.Errorf("expected a warning to be logged, got %q", logs.String())
	}
}

func TestWrongShapePersistedValue(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemory()
	// Valid JSON, wrong type for the value.
	_ = area.SetItem(ctx, "menuboard:count", `"seven"`)

	s, _ := loggedStore(t, area)
	v := Open(ctx, s, "count", 3)
	if got := v.Get(); got != 3 {
		t.Errorf("Get() = %d, want default 3", got)
	}
}

func TestIdempotentWrite(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemory()
	s := newTestStore(t, area, nil, "")
	v := Open(ctx, s, "theme", "light")

	v.Set(ctx, "dark")
	once, _, _ := area.GetItem(ctx, "menuboard:theme")
	v.Set(ctx, "dark")
	twice, _, _ := area.GetItem(ctx, "menuboard:theme")

	if once != twice || twice != `"dark"` {
		t.Errorf("persisted after one write %q, after two %q", once, twice)
	}
	if v.Get() != "dark" {
		t.Errorf("Get() = %q", v.Get())
	}
}

func TestDeleteResetsToDefault(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemory()
	s := newTestStore(t, area, nil, "")
	v := Open(ctx, s, "cart-items", []cartItem{})

	v.Set(ctx, []cartItem{{ID: "1"}, {ID: "2"}})
	v.Delete(ctx)

	if got := v.Get(); len(got) != 0 {
		t.Errorf("Get() after Delete = %v, want empty default", got)
	}
	if _, ok, _ := area.GetItem(ctx, "menuboard:cart-items"); ok {
		t.Error("persisted entry should be removed by Delete")
	}
	reopened := Open(ctx, newTestStore(t, area, nil, ""), "cart-items", []cartItem{{ID: "d"}})
	if got := reopened.Get(); len(got) != 1 || got[0].ID != "d" {
		t.Errorf("reopened Get() = %v, want default", got)
	}
}

// TestCartScenario is the append-via-transform flow used by the cart.
func TestCartScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), nil, "")
	v := Open(ctx, s, "cart-items", []cartItem{})

	v.Set(ctx, []cartItem{})
	v.Update(ctx, func(prev []cartItem) []cartItem {
		return append(prev, cartItem{ID: "7"})
	})

	want := []cartItem{{ID: "7"}}
	if got := v.Get(); !reflect.DeepEqual(got, want) {
		t.Errorf("Get() = %v, want %v", got, want)
	}
}

func TestUpdatePanicKeepsValueUsable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), nil, "")
	v := Open(ctx, s, "cart-items", []cartItem{{ID: "1"}})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("Update() swallowed the transform's panic")
			}
		}()
		v.Update(ctx, func([]cartItem) []cartItem { panic("bad transform") })
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.Update(ctx, func(prev []cartItem) []cartItem {
			return append(append([]cartItem(nil), prev...), cartItem{ID: "2"})
		})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update() blocked after a panicking transform")
	}

	want := []cartItem{{ID: "1"}, {ID: "2"}}
	if got := v.Get(); !reflect.DeepEqual(got, want) {
		t.Errorf("Get() = %v, want %v", got, want)
	}
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	area := &storage.Memory{MaxBytes: 24}
	s, logs := loggedStore(t, area)
	v := Open(ctx, s, "notes", "")

	v.Set(ctx, strings.Repeat("x", 100))

	if got := v.Get(); len(got) != 100 {
		t.Errorf("in-memory value should update despite quota, got len %d", len(got))
	}
	if _, ok, _ := area.GetItem(ctx, "menuboard:notes"); ok {
		t.Error("value over quota should not be persisted")
	}
	if !strings.Contains(logs.String(), "quota") {
		t.Errorf("expected quota warning, got %q", logs.String())
	}
}

func TestDisabledAreaStillWorksInMemory(t *testing.T) {
	ctx := context.Background()
	s, _ := loggedStore(t, storage.Disabled{})
	v := Open(ctx, s, "cart-items", []cartItem{})

	v.Update(ctx, func(prev []cartItem) []cartItem { return append(prev, cartItem{ID: "1"}) })
	v.Update(ctx, func(prev []cartItem) []cartItem { return append(prev, cartItem{ID: "2"}) })
	if got := v.Get(); len(got) != 2 {
		t.Errorf("Get() = %v, want two items", got)
	}

	v.Delete(ctx)
	if got := v.Get(); len(got) != 0 {
		t.Errorf("Get() after Delete = %v", got)
	}
}

func TestCrossContextSync(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemory()
	bus := pubsub.NewLocal(log.New(io.Discard, "", 0))
	defer bus.Close()

	tabA := newTestStore(t, area, bus, "tab-a")
	tabB := newTestStore(t, area, bus, "tab-b")

	a := Open(ctx, tabA, "theme", "light")
	b := Open(ctx, tabB, "theme", "light")

	var seen []string
	b.Subscribe(func(v string) { seen = append(seen, v) })

	a.Set(ctx, "dark")
	if got := b.Get(); got != "dark" {
		t.Errorf("tab B Get() = %q, want dark", got)
	}
	if len(seen) != 1 || seen[0] != "dark" {
		t.Errorf("tab B watchers saw %v", seen)
	}

	// Deletes stay local to the deleting context.
	a.Delete(ctx)
	if got := a.Get(); got != "light" {
		t.Errorf("tab A Get() after delete = %q", got)
	}
	if got := b.Get(); got != "dark" {
		t.Errorf("tab B Get() after tab A delete = %q, want unchanged", got)
	}
}

func TestCrossContextIgnoresOwnAndOtherKeys(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemory()
	bus := pubsub.NewLocal(log.New(io.Discard, "", 0))
	defer bus.Close()

	s := newTestStore(t, area, bus, "tab-a")
	v := Open(ctx, s, "theme", "light")

	changes := 0
	v.Subscribe(func(string) { changes++ })

	publish := func(origin, key string, val *string) {
		payload, _ := json.Marshal(StorageEvent{Key: key, NewValue: val})
		_ = bus.Publish(ctx, pubsub.Event{Topic: Topic, Origin: origin, Payload: payload})
	}
	dark := `"dark"`

	publish("tab-a", "menuboard:theme", &dark)  // own origin
	publish("tab-b", "menuboard:other", &dark)  // other key
	publish("tab-b", "menuboard:theme", nil)    // deletion
	if v.Get() != "light" || changes != 0 {
		t.Fatalf("value changed to %q after ignorable events (%d notifications)", v.Get(), changes)
	}

	publish("tab-b", "menuboard:theme", &dark)
	if v.Get() != "dark" || changes != 1 {
		t.Errorf("Get() = %q with %d notifications, want dark/1", v.Get(), changes)
	}

	bad := "{oops"
	publish("tab-b", "menuboard:theme", &bad)
	if v.Get() != "light" {
		t.Errorf("malformed change should reset to default, got %q", v.Get())
	}
}

func TestStoreUntypedOperations(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemory()
	bus := pubsub.NewLocal(log.New(io.Discard, "", 0))
	defer bus.Close()

	writer := newTestStore(t, area, bus, "cli")
	reader := newTestStore(t, area, bus, "tab")

	var events []StorageEvent
	reader.Watch("offers-seen", func(se StorageEvent) { events = append(events, se) })

	if ok := writer.Write(ctx, "offers-seen", json.RawMessage(`["o1"]`)); !ok {
		t.Fatal("Write() reported failure")
	}
	raw, ok := reader.Read(ctx, "offers-seen")
	if !ok || string(raw) != `["o1"]` {
		t.Fatalf("Read() = %s, %v", raw, ok)
	}

	keys, err := reader.Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != "offers-seen" {
		t.Fatalf("Keys() = %v, %v", keys, err)
	}

	writer.Delete(ctx, "offers-seen")
	if _, ok := reader.Read(ctx, "offers-seen"); ok {
		t.Error("Read() after Delete should miss")
	}

	if len(events) != 2 {
		t.Fatalf("expected write and delete events, got %d", len(events))
	}
	if events[0].NewValue == nil || *events[0].NewValue != `["o1"]` {
		t.Errorf("write event = %+v", events[0])
	}
	if events[1].NewValue != nil || events[1].OldValue == nil {
		t.Errorf("delete event = %+v", events[1])
	}
}

func TestCloseStopsSync(t *testing.T) {
	ctx := context.Background()
	area := storage.NewMemory()
	bus := pubsub.NewLocal(log.New(io.Discard, "", 0))
	defer bus.Close()

	tabA := newTestStore(t, area, bus, "tab-a")
	tabB := New(area, bus, &Config{ContextID: "tab-b", Logger: log.New(io.Discard, "", 0)})

	a := Open(ctx, tabA, "theme", "light")
	b := Open(ctx, tabB, "theme", "light")
	_ = tabB.Close()

	a.Set(ctx, "dark")
	if got := b.Get(); got != "light" {
		t.Errorf("closed store should not receive changes, got %q", got)
	}
}
