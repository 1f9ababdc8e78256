package menu

import (
	"context"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/mschirtzinger/menuboard/internal/kvstore"
)

// CartKey is the key-value store key holding the cart.
const CartKey = "cart-items"

// CartItem is one line of the cart.
type CartItem struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Prices   Prices `json:"prices"`
	Quantity int    `json:"quantity"`
}

// Cart is the customer's cart, persisted in the key-value store and kept in
// sync with other contexts sharing the store.
type Cart struct {
	value *kvstore.Value[[]CartItem]
}

// OpenCart loads the cart from s.
func OpenCart(ctx context.Context, s *kvstore.Store) *Cart {
	return &Cart{value: kvstore.Open(ctx, s, CartKey, []CartItem{})}
}

// Items returns the cart lines.
func (c *Cart) Items() []CartItem {
	return c.value.Get()
}

// Add puts qty of item in the cart, merging with an existing line.
func (c *Cart) Add(ctx context.Context, item Item, qty int) {
	if qty <= 0 {
		qty = 1
	}
	c.value.Update(ctx, func(prev []CartItem) []CartItem {
		next := append([]CartItem(nil), prev...)
		for i := range next {
			if next[i].ID == item.ID {
				next[i].Quantity += qty
				return next
			}
		}
		return append(next, CartItem{ID: item.ID, Name: item.Name, Prices: item.Prices, Quantity: qty})
	})
}

// Remove drops the line for id.
func (c *Cart) Remove(ctx context.Context, id string) {
	c.value.Update(ctx, func(prev []CartItem) []CartItem {
		out := make([]CartItem, 0, len(prev))
		for _, line := range prev {
			if line.ID != id {
				out = append(out, line)
			}
		}
		return out
	})
}

// Clear empties the cart and removes it from storage.
func (c *Cart) Clear(ctx context.Context) {
	c.value.Delete(ctx)
}

// Total sums the cart at tier prices.
func (c *Cart) Total(t Tier) float64 {
	var total float64
	for _, line := range c.value.Get() {
		total += line.Prices.For(t) * float64(line.Quantity)
	}
	return total
}

// Close stops following changes from other contexts.
func (c *Cart) Close() {
	c.value.Close()
}

// FormatPrice renders amount in the given ISO currency for lang, for
// example "₹1,250.00" for INR in en-IN.
func FormatPrice(amount float64, cur string, lang language.Tag) string {
	unit, err := currency.ParseISO(cur)
	if err != nil {
		unit = currency.INR
	}
	p := message.NewPrinter(lang)
	return p.Sprintf("%v%v", currency.Symbol(unit), number.Decimal(amount, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}
