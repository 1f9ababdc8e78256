// Package menu provides the restaurant menu served behind the offline cache:
// items priced in three tiers, offers, admin users, the JSON API and the
// customer cart.
package menu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an item, offer or admin does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when admin credentials do not match.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalid is returned for records that fail validation.
	ErrInvalid = errors.New("invalid")
)

// Tier is a seating/pricing tier.
type Tier string

const (
	TierAC       Tier = "ac"
	TierNonAC    Tier = "non-ac"
	TierTakeaway Tier = "takeaway"
)

// Tiers lists every tier in display order.
var Tiers = []Tier{TierAC, TierNonAC, TierTakeaway}

// ParseTier parses a tier name. The empty string is TierAC.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierAC:
		return TierAC, nil
	case TierNonAC, "nonac":
		return TierNonAC, nil
	case TierTakeaway:
		return TierTakeaway, nil
	default:
		return "", fmt.Errorf("%w tier %q", ErrInvalid, s)
	}
}

// Prices holds an item's price per tier.
type Prices struct {
	AC       float64 `json:"ac"`
	NonAC    float64 `json:"nonAc"`
	Takeaway float64 `json:"takeaway"`
}

// For returns the price for tier t.
func (p Prices) For(t Tier) float64 {
	switch t {
	case TierNonAC:
		return p.NonAC
	case TierTakeaway:
		return p.Takeaway
	default:
		return p.AC
	}
}

// Item is a menu item.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Prices      Prices    `json:"prices"`
	Veg         bool      `json:"veg"`
	Available   bool      `json:"available"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks required fields.
func (it *Item) Validate() error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("%w item: id is required", ErrInvalid)
	}
	if strings.TrimSpace(it.Name) == "" {
		return fmt.Errorf("%w item %s: name is required", ErrInvalid, it.ID)
	}
	if strings.TrimSpace(it.Category) == "" {
		return fmt.Errorf("%w item %s: category is required", ErrInvalid, it.ID)
	}
	if it.Prices.AC < 0 || it.Prices.NonAC < 0 || it.Prices.Takeaway < 0 {
		return fmt.Errorf("%w item %s: negative price", ErrInvalid, it.ID)
	}
	return nil
}

// Offer is a promotional offer.
type Offer struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DiscountPct int    `json:"discountPct"`
	Active      bool   `json:"active"`
}

// Validate checks required fields.
func (o *Offer) Validate() error {
	if strings.TrimSpace(o.ID) == "" || strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("%w offer: id and title are required", ErrInvalid)
	}
	if o.DiscountPct < 0 || o.DiscountPct > 100 {
		return fmt.Errorf("%w offer %s: discount must be 0-100", ErrInvalid, o.ID)
	}
	return nil
}

// AdminUser may use the admin API.
type AdminUser struct {
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Repository persists the menu.
type Repository interface {
	ListItems(ctx context.Context) ([]Item, error)
	MenuItem(ctx context.Context, id string) (*Item, error)
	SaveItem(ctx context.Context, item *Item) error
	DeleteMenuItem(ctx context.Context, id string) error

	ListOffers(ctx context.Context) ([]Offer, error)
	SaveOffer(ctx context.Context, offer *Offer) error
	DeleteOffer(ctx context.Context, id string) error

	ListAdmins(ctx context.Context) ([]AdminUser, error)
	Admin(ctx context.Context, email string) (*AdminUser, error)
	SaveAdmin(ctx context.Context, admin *AdminUser) error
	DeleteAdmin(ctx context.Context, email string) error
}

// Category is one section of the menu.
type Category struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Group sorts items into categories. Categories and the items within them
// are ordered by name.
func Group(items []Item) []Category {
	byName := make(map[string][]Item)
	for _, it := range items {
		byName[it.Category] = append(byName[it.Category], it)
	}
	out := make([]Category, 0, len(byName))
	for name, list := range byName {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		out = append(out, Category{Name: name, Items: list})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
