package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-hub/internal/cmd/serve"
	"github.com/chirino/conversation-hub/internal/config"
	registrymigrate "github.com/chirino/conversation-hub/internal/registry/migrate"
	"github.com/urfave/cli/v3"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema",
		Flags: serve.DatabaseFlags(&cfg),
		Action: func(ctx context.Context, _ *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			// An explicit migrate ignores CONVERSATION_HUB_DB_MIGRATE_AT_START.
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "db", cfg.DatastoreType, "migrators", registrymigrate.Names())
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
