package seed

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-hub/internal/cmd/serve"
	"github.com/chirino/conversation-hub/internal/config"
	storecached "github.com/chirino/conversation-hub/internal/plugin/store/cached"
	registrymigrate "github.com/chirino/conversation-hub/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/chirino/conversation-hub/internal/seed"
	"github.com/chirino/conversation-hub/internal/service"
	"github.com/urfave/cli/v3"
)

// Command returns the seed sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "seed",
		Usage: "Load demo conversations through the ingestion path",
		Flags: append(append(serve.DatabaseFlags(&cfg), serve.CacheFlags(&cfg)...),
			&cli.StringFlag{
				Name:        "file",
				Sources:     cli.EnvVars("CONVERSATION_HUB_SEED_FILE"),
				Destination: &cfg.SeedFile,
				Usage:       "YAML fixture file; the built-in demo set is used when unset",
			},
		),
		Action: func(ctx context.Context, _ *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			return Run(ctx, &cfg)
		},
	}
}

// Run migrates the configured store and replays the fixtures into it. Each
// message invalidates the configured detail cache.
func Run(ctx context.Context, cfg *config.Config) error {
	fx, err := seed.LoadFile(cfg.SeedFile)
	if err != nil {
		return err
	}
	ctx = config.WithContext(ctx, cfg)
	if err := registrymigrate.RunAll(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	loader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return err
	}
	store, err := loader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	detailCache, err := serve.LoadCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer detailCache.Close()

	log.Info("Seeding", "db", cfg.DatastoreType, "cache", cfg.CacheType, "conversations", len(fx.Conversations))
	stats, err := seed.Apply(ctx, service.NewIngestService(storecached.Wrap(store, detailCache)), fx)
	if err != nil {
		return err
	}
	log.Info("Seed complete",
		"contacts", stats.Contacts,
		"conversations", stats.Conversations,
		"messages", stats.Messages,
	)
	return nil
}
