package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-hub/internal/config"
	"github.com/chirino/conversation-hub/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/conversation-hub/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

const maxIngestAttempts = 3

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg)
			if err != nil {
				return nil, err
			}
			if err := sqlstore.ConfigurePool(ctx, db, cfg); err != nil {
				return nil, err
			}
			return &PostgresStore{Store: sqlstore.New(db)}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

// Open connects to the postgres database named by cfg.DBURL.
func Open(cfg *config.Config) (*gorm.DB, error) {
	if cfg == nil || cfg.DBURL == "" {
		return nil, errors.New("postgres: database URL is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }

func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := sqlstore.ApplySchema(ctx, db, "postgres"); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// PostgresStore retries ingestion when postgres aborts the transaction to
// resolve lock contention.
type PostgresStore struct {
	*sqlstore.Store
}

func (s *PostgresStore) IngestMessage(ctx context.Context, req registrystore.IngestRequest) error {
	var err error
	for attempt := 1; attempt <= maxIngestAttempts; attempt++ {
		err = s.Store.IngestMessage(ctx, req)
		if err == nil || !isRetryable(err) {
			return err
		}
		log.Warn("Retrying ingestion after transaction conflict",
			"attempt", attempt,
			"conversation", req.ConversationExternalID,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return err
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
