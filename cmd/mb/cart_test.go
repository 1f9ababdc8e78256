package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/language"

	"github.com/mschirtzinger/menuboard/internal/db"
	"github.com/mschirtzinger/menuboard/internal/kvstore"
	"github.com/mschirtzinger/menuboard/internal/menu"
	"github.com/mschirtzinger/menuboard/internal/pubsub"
	"github.com/mschirtzinger/menuboard/internal/storage"
)

func newTestCart(t *testing.T) (*db.DB, *menu.Cart) {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(filepath.Join(t.TempDir(), "menuboard.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if _, err := menu.Seed(ctx, database); err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}

	bus := pubsub.NewLocal(log.New(io.Discard, "", 0))
	store := kvstore.New(storage.NewMemory(), bus, &kvstore.Config{Prefix: "menuboard"})
	cart := menu.OpenCart(ctx, store)
	t.Cleanup(func() {
		cart.Close()
		_ = store.Close()
		_ = bus.Close()
	})
	return database, cart
}

func TestAddToCart(t *testing.T) {
	database, cart := newTestCart(t)
	ctx := context.Background()

	if _, err := addToCart(ctx, database, cart, "dal-makhani", 2); err != nil {
		t.Fatalf("addToCart() failed: %v", err)
	}
	if _, err := addToCart(ctx, database, cart, "dal-makhani", 1); err != nil {
		t.Fatalf("addToCart() failed: %v", err)
	}
	items := cart.Items()
	if len(items) != 1 || items[0].Quantity != 3 || items[0].Name != "Dal Makhani" {
		t.Fatalf("Items() = %+v, want 3 x Dal Makhani", items)
	}

	if _, err := addToCart(ctx, database, cart, "mango-lassi", 1); err == nil {
		t.Error("addToCart() accepted an unavailable item")
	}
	if _, err := addToCart(ctx, database, cart, "no-such-dish", 1); !errors.Is(err, menu.ErrNotFound) {
		t.Errorf("addToCart(unknown) error = %v, want ErrNotFound", err)
	}
	if n := len(cart.Items()); n != 1 {
		t.Errorf("cart has %d lines after rejected adds, want 1", n)
	}
}

func TestWriteCart(t *testing.T) {
	database, cart := newTestCart(t)
	ctx := context.Background()

	var buf bytes.Buffer
	writeCart(&buf, cart, menu.TierTakeaway, "INR", language.English)
	if !strings.Contains(buf.String(), "Cart is empty") {
		t.Errorf("empty cart output = %q", buf.String())
	}

	if _, err := addToCart(ctx, database, cart, "butter-naan", 2); err != nil {
		t.Fatalf("addToCart() failed: %v", err)
	}
	if _, err := addToCart(ctx, database, cart, "paneer-tikka", 1); err != nil {
		t.Fatalf("addToCart() failed: %v", err)
	}

	buf.Reset()
	writeCart(&buf, cart, menu.TierTakeaway, "INR", language.English)
	out := buf.String()
	total := menu.FormatPrice(2*50+250, "INR", language.English)
	if !strings.Contains(out, "Butter Naan") || !strings.Contains(out, "Paneer Tikka") {
		t.Errorf("output missing lines: %q", out)
	}
	if !strings.Contains(out, total) {
		t.Errorf("output = %q, want total %s", out, total)
	}
}
