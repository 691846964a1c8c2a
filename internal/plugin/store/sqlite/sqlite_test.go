package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/conversation-hub/internal/config"
	"github.com/chirino/conversation-hub/internal/document"
	"github.com/chirino/conversation-hub/internal/plugin/store/sqlite"
	registrymigrate "github.com/chirino/conversation-hub/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/hub.db?_txlock=immediate&_busy_timeout=5000", sqlite.DSN("/tmp/hub.db"))
	assert.Equal(t, "file:hub.db?_txlock=immediate&_busy_timeout=5000", sqlite.DSN("sqlite://hub.db"))
	assert.Equal(t, "file:hub.db?cache=shared&_txlock=immediate&_busy_timeout=5000", sqlite.DSN("file:hub.db?cache=shared"))
	assert.Equal(t, "file:hub.db?_txlock=deferred&_busy_timeout=5000", sqlite.DSN("hub.db?_txlock=deferred"))
}

func TestLoaderAfterMigrations(t *testing.T) {
	_ = sqlite.ForceImport

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "hub.db")
	cfg.DBPoolStatsInterval = 0
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	defer cancel()

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	require.NoError(t, store.IngestMessage(ctx, registrystore.IngestRequest{
		ContactExternalID:      "a@x.com",
		ContactData:            document.MustParse(`{"tier":"gold"}`),
		ConversationExternalID: "c1",
		MessageText:            "hello",
	}))
	detail, err := store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, detail.Messages, 1)
}

func TestLoaderRequiresPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	_, err = loader(ctx)
	require.ErrorContains(t, err, "database path is required")
}
