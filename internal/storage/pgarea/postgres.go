// Package pgarea provides a storage.Area backed by a Postgres table via gorm.
package pgarea

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mschirtzinger/menuboard/internal/storage"
)

// Item represents a row in the kv_items table.
type Item struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// TableName pins the table name independently of gorm's pluralisation.
func (Item) TableName() string { return "kv_items" }

// Area is a storage.Area over Postgres.
type Area struct {
	db *gorm.DB
}

// New opens the database at dsn and migrates the kv_items table.
func New(dsn string) (*Area, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Area{db: db}, nil
}

// GetItem implements storage.Area.
func (a *Area) GetItem(ctx context.Context, key string) (string, bool, error) {
	var item Item
	result := a.db.WithContext(ctx).Where("key = ?", key).First(&item)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if result.Error != nil {
		return "", false, fmt.Errorf("%w: %v", storage.ErrUnavailable, result.Error)
	}
	return item.Value, true, nil
}

// SetItem implements storage.Area as an upsert.
func (a *Area) SetItem(ctx context.Context, key, value string) error {
	item := Item{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&item).Error
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// RemoveItem implements storage.Area.
func (a *Area) RemoveItem(ctx context.Context, key string) error {
	if err := a.db.WithContext(ctx).Delete(&Item{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Keys implements storage.Area.
func (a *Area) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := a.db.WithContext(ctx).Model(&Item{}).
		Where("key LIKE ?", escapeLike(prefix)+"%").
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return keys, nil
}

// Close closes the database connection.
func (a *Area) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
