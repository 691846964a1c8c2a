package postgres

import (
	"fmt"
	"testing"

	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	wrap := func(code string) error {
		return &registrystore.StorageError{
			Op:  "ingest message",
			Err: fmt.Errorf("failed to update contacts: %w", &pgconn.PgError{Code: code}),
		}
	}
	assert.True(t, isRetryable(wrap("40001")))
	assert.True(t, isRetryable(wrap("40P01")))
	assert.False(t, isRetryable(wrap("23505")))
	assert.False(t, isRetryable(fmt.Errorf("plain")))
}
