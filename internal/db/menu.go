package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/menuboard/internal/menu"
)

var _ menu.Repository = (*DB)(nil)

const itemColumns = `id, name, category, description, price_ac, price_non_ac, price_takeaway,
	veg, available, image_url, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*menu.Item, error) {
	var (
		it      menu.Item
		updated string
	)
	err := row.Scan(&it.ID, &it.Name, &it.Category, &it.Description,
		&it.Prices.AC, &it.Prices.NonAC, &it.Prices.Takeaway,
		&it.Veg, &it.Available, &it.ImageURL, &updated)
	if err != nil {
		return nil, err
	}
	it.UpdatedAt = parseTime(updated)
	return &it, nil
}

// ListItems returns every menu item ordered by category and name.
func (db *DB) ListItems(ctx context.Context) ([]menu.Item, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM menu_items ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu items: %w", err)
	}
	defer rows.Close()

	items := []menu.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// MenuItem returns the item with id, or menu.ErrNotFound.
func (db *DB) MenuItem(ctx context.Context, id string) (*menu.Item, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM menu_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, menu.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get menu item %s: %w", id, err)
	}
	return it, nil
}

// SaveItem inserts or replaces a menu item.
func (db *DB) SaveItem(ctx context.Context, it *menu.Item) error {
	if err := it.Validate(); err != nil {
		return err
	}
	updated := it.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `
	INSERT INTO menu_items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		category = excluded.category,
		description = excluded.description,
		price_ac = excluded.price_ac,
		price_non_ac = excluded.price_non_ac,
		price_takeaway = excluded.price_takeaway,
		veg = excluded.veg,
		available = excluded.available,
		image_url = excluded.image_url,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		it.ID, it.Name, it.Category, it.Description,
		it.Prices.AC, it.Prices.NonAC, it.Prices.Takeaway,
		it.Veg, it.Available, it.ImageURL, formatTime(updated))
	if err != nil {
		return fmt.Errorf("failed to save menu item %s: %w", it.ID, err)
	}
	return nil
}

// DeleteMenuItem removes a menu item, or returns menu.ErrNotFound.
func (db *DB) DeleteMenuItem(ctx context.Context, id string) error {
	return db.deleteOne(ctx, `DELETE FROM menu_items WHERE id = ?`, "item", id)
}

// ListOffers returns every offer ordered by ID.
func (db *DB) ListOffers(ctx context.Context) ([]menu.Offer, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, title, description, discount_pct, active FROM offers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	offers := []menu.Offer{}
	for rows.Next() {
		var o menu.Offer
		if err := rows.Scan(&o.ID, &o.Title, &o.Description, &o.DiscountPct, &o.Active); err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// SaveOffer inserts or replaces an offer.
func (db *DB) SaveOffer(ctx context.Context, o *menu.Offer) error {
	if err := o.Validate(); err != nil {
		return err
	}
	query := `
	INSERT INTO offers (id, title, description, discount_pct, active)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		discount_pct = excluded.discount_pct,
		active = excluded.active
	`
	if _, err := db.conn.ExecContext(ctx, query, o.ID, o.Title, o.Description, o.DiscountPct, o.Active); err != nil {
		return fmt.Errorf("failed to save offer %s: %w", o.ID, err)
	}
	return nil
}

// DeleteOffer removes an offer, or returns menu.ErrNotFound.
func (db *DB) DeleteOffer(ctx context.Context, id string) error {
	return db.deleteOne(ctx, `DELETE FROM offers WHERE id = ?`, "offer", id)
}

// ListAdmins returns every admin ordered by email.
func (db *DB) ListAdmins(ctx context.Context) ([]menu.AdminUser, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT email, password_hash, created_at FROM admin_users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer rows.Close()

	admins := []menu.AdminUser{}
	for rows.Next() {
		var (
			a       menu.AdminUser
			created string
		)
		if err := rows.Scan(&a.Email, &a.PasswordHash, &created); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		a.CreatedAt = parseTime(created)
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

// Admin returns the admin with email, or menu.ErrNotFound.
func (db *DB) Admin(ctx context.Context, email string) (*menu.AdminUser, error) {
	var (
		a       menu.AdminUser
		created string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT email, password_hash, created_at FROM admin_users WHERE email = ?`, email).
		Scan(&a.Email, &a.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("admin %s: %w", email, menu.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin %s: %w", email, err)
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// SaveAdmin inserts an admin or replaces its password hash.
func (db *DB) SaveAdmin(ctx context.Context, a *menu.AdminUser) error {
	if a.Email == "" || a.PasswordHash == "" {
		return fmt.Errorf("%w admin: email and password hash are required", menu.ErrInvalid)
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	query := `
	INSERT INTO admin_users (email, password_hash, created_at) VALUES (?, ?, ?)
	ON CONFLICT(email) DO UPDATE SET password_hash = excluded.password_hash
	`
	if _, err := db.conn.ExecContext(ctx, query, a.Email, a.PasswordHash, formatTime(created)); err != nil {
		return fmt.Errorf("failed to save admin %s: %w", a.Email, err)
	}
	return nil
}

// DeleteAdmin removes an admin, or returns menu.ErrNotFound.
func (db *DB) DeleteAdmin(ctx context.Context, email string) error {
	return db.deleteOne(ctx, `DELETE FROM admin_users WHERE email = ?`, "admin", email)
}

func (db *DB) deleteOne(ctx context.Context, query, what, id string) error {
	res, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", what, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, menu.ErrNotFound)
	}
	return nil
}
