package sqlstore

import (
	"context"
	"embed"
	"fmt"

	"gorm.io/gorm"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// ApplySchema creates the tables and indexes for the given dialect
// ("postgres" or "sqlite"). It is safe to run repeatedly.
func ApplySchema(ctx context.Context, db *gorm.DB, dialect string) error {
	ddl, err := schemaFS.ReadFile("schema/" + dialect + ".sql")
	if err != nil {
		return fmt.Errorf("no schema for dialect %q: %w", dialect, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("failed to execute %s schema: %w", dialect, err)
	}
	return nil
}
