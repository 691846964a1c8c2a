package bdd

import (
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"
)

var tables = []string{"messages", "conversations", "contacts"}

// GormTestDB gives BDD steps raw access to the store's database.
type GormTestDB struct {
	DB *gorm.DB
}

func (d *GormTestDB) ClearAll(ctx context.Context) error {
	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func (d *GormTestDB) Count(ctx context.Context, table string) (int64, error) {
	if !slices.Contains(tables, table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	err := d.DB.WithContext(ctx).Table(table).Count(&n).Error
	return n, err
}
