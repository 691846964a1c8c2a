package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-hub/internal/config"
	"github.com/chirino/conversation-hub/internal/security"
	"gorm.io/gorm"
)

// ConfigurePool applies the pool limits from cfg and keeps the open
// connections gauge current until ctx is done.
func ConfigurePool(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
	}

	interval := cfg.DBPoolStatsInterval
	if interval <= 0 {
		return nil
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()
	return nil
}
