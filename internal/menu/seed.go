package menu

import (
	"context"
	"fmt"
	"time"
)

// SampleItems is a small starter menu.
func SampleItems() []Item {
	now := time.Now().UTC()
	return []Item{
		{ID: "paneer-tikka", Name: "Paneer Tikka", Category: "Starters", Description: "Chargrilled cottage cheese",
			Prices: Prices{AC: 280, NonAC: 260, Takeaway: 250}, Veg: true, Available: true, UpdatedAt: now},
		{ID: "chicken-65", Name: "Chicken 65", Category: "Starters",
			Prices: Prices{AC: 320, NonAC: 300, Takeaway: 290}, Available: true, UpdatedAt: now},
		{ID: "dal-makhani", Name: "Dal Makhani", Category: "Main Course", Description: "Slow-cooked black lentils",
			Prices: Prices{AC: 240, NonAC: 220, Takeaway: 210}, Veg: true, Available: true, UpdatedAt: now},
		{ID: "butter-naan", Name: "Butter Naan", Category: "Breads",
			Prices: Prices{AC: 60, NonAC: 55, Takeaway: 50}, Veg: true, Available: true, UpdatedAt: now},
		{ID: "mango-lassi", Name: "Mango Lassi", Category: "Beverages",
			Prices: Prices{AC: 120, NonAC: 110, Takeaway: 100}, Veg: true, Available: false, UpdatedAt: now},
	}
}

// SampleOffers is a starter offer list.
func SampleOffers() []Offer {
	return []Offer{
		{ID: "weekday-lunch", Title: "Weekday Lunch", Description: "10% off 12-3pm, Mon-Fri", DiscountPct: 10, Active: true},
	}
}

// Seed stores the sample menu in repo and returns the number of records written.
func Seed(ctx context.Context, repo Repository) (int, error) {
	n := 0
	for _, it := range SampleItems() {
		if err := repo.SaveItem(ctx, &it); err != nil {
			return n, fmt.Errorf("failed to seed item %s: %w", it.ID, err)
		}
		n++
	}
	for _, o := range SampleOffers() {
		if err := repo.SaveOffer(ctx, &o); err != nil {
			return n, fmt.Errorf("failed to seed offer %s: %w", o.ID, err)
		}
		n++
	}
	return n, nil
}
