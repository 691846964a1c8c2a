package cached

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chirino/conversation-hub/internal/model"
	"github.com/chirino/conversation-hub/internal/plugin/cache/noop"
	"github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	gets      int
	ingests   int
	ingestErr error
	name      string
}

func (s *countingStore) IngestMessage(context.Context, store.IngestRequest) error {
	s.ingests++
	return s.ingestErr
}

func (s *countingStore) GetConversation(_ context.Context, id string) (*store.ConversationDetail, error) {
	s.gets++
	if id == "missing" {
		return nil, &store.NotFoundError{Resource: "conversation", ID: id}
	}
	return &store.ConversationDetail{Conversation: model.Conversation{ExternalID: id}, Contacts: []model.Contact{{ExternalID: s.name}}}, nil
}

func (s *countingStore) ListConversations(context.Context, store.ListQuery) (*store.ConversationPage, error) {
	return &store.ConversationPage{}, nil
}

// mapCache stands in for a shared cache server.
type mapCache struct {
	generation    int64
	entries       map[string]*store.ConversationDetail
	invalidateErr error
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]*store.ConversationDetail{}}
}

func (c *mapCache) Available() bool { return true }
func (c *mapCache) Close() error    { return nil }

func (c *mapCache) Generation(context.Context) (int64, error) { return c.generation, nil }

func (c *mapCache) Invalidate(context.Context) error {
	if c.invalidateErr != nil {
		return c.invalidateErr
	}
	c.generation++
	return nil
}

func (c *mapCache) Get(_ context.Context, gen int64, id string) (*store.ConversationDetail, error) {
	return c.entries[fmt.Sprintf("%d:%s", gen, id)], nil
}

func (c *mapCache) Set(_ context.Context, gen int64, id string, d *store.ConversationDetail) error {
	c.entries[fmt.Sprintf("%d:%s", gen, id)] = d
	return nil
}

func TestWrapWithUnavailableCacheIsPassthrough(t *testing.T) {
	inner := &countingStore{}
	require.Same(t, store.Store(inner), Wrap(inner, noop.New()))
	require.Same(t, store.Store(inner), Wrap(inner, nil))
}

func TestGetConversationServesFromCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{name: "alice"}
	s := Wrap(inner, newMapCache())

	_, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Conversation.ExternalID)
	assert.Equal(t, 1, inner.gets)
}

func TestIngestInvalidatesCachedDetails(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{name: "alice"}
	s := Wrap(inner, newMapCache())

	_, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)

	inner.name = "alice-renamed"
	require.NoError(t, s.IngestMessage(ctx, store.IngestRequest{ConversationExternalID: "other"}))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice-renamed", got.Contacts[0].ExternalID)
	assert.Equal(t, 2, inner.gets)
}

func TestFailedInvalidateBypassesCacheUntilRecovered(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{name: "alice"}
	c := newMapCache()
	s := Wrap(inner, c)

	_, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)

	c.invalidateErr = errors.New("connection refused")
	inner.name = "alice-renamed"
	require.NoError(t, s.IngestMessage(ctx, store.IngestRequest{ConversationExternalID: "c1"}))

	// the generation did not move, but the stale entry must not be served
	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice-renamed", got.Contacts[0].ExternalID)
	assert.Equal(t, int64(0), c.generation)
	assert.Equal(t, 2, inner.gets)

	// once invalidation works again the cache is used under a new generation
	c.invalidateErr = nil
	_, err = s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.generation)
	got, err = s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice-renamed", got.Contacts[0].ExternalID)
	assert.Equal(t, 3, inner.gets)
}

func TestFailedIngestKeepsGeneration(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{ingestErr: errors.New("boom")}
	c := newMapCache()
	s := Wrap(inner, c)

	require.Error(t, s.IngestMessage(ctx, store.IngestRequest{}))
	assert.Equal(t, int64(0), c.generation)
}

func TestNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{}
	s := Wrap(inner, newMapCache())

	for range 2 {
		_, err := s.GetConversation(ctx, "missing")
		var nf *store.NotFoundError
		require.ErrorAs(t, err, &nf)
	}
	assert.Equal(t, 2, inner.gets)
}
