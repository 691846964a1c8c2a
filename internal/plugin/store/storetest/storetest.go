// Package storetest holds behaviour tests every Store implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chirino/conversation-hub/internal/document"
	"github.com/chirino/conversation-hub/internal/model"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store whose timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) registrystore.Store

// Clock is a deterministic time source that advances one second per reading.
type Clock struct {
	mu  sync.Mutex
	cur time.Time
}

// NewClock starts a Clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{cur: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current reading and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.cur
	c.cur = c.cur.Add(time.Second)
	return t
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s registrystore.Store)
	}{
		{"MergesRepeatedIngestion", testMergesRepeatedIngestion},
		{"CollectsDistinctSenders", testCollectsDistinctSenders},
		{"GetUnknownConversation", testGetUnknownConversation},
		{"NullDataKeepsDocument", testNullDataKeepsDocument},
		{"NestedMergeAndNulls", testNestedMergeAndNulls},
		{"ListAggregatesAndOrder", testListAggregatesAndOrder},
		{"ListSearch", testListSearch},
		{"ListPaging", testListPaging},
		{"ConcurrentMerges", testConcurrentMerges},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock()
			tc.fn(t, newStore(t, clock.Now))
		})
	}
}

func ingest(t *testing.T, s registrystore.Store, contact, contactData, conv, convData, text string) {
	t.Helper()
	req := registrystore.IngestRequest{
		ContactExternalID:      contact,
		ConversationExternalID: conv,
		MessageText:            text,
		ContactData:            parseOrNull(contactData),
		ConversationData:       parseOrNull(convData),
		MessageData:            document.Null(),
	}
	require.NoError(t, s.IngestMessage(context.Background(), req))
}

func parseOrNull(raw string) document.Value {
	if raw == "" {
		return document.Null()
	}
	return document.MustParse(raw)
}

func contactByID(t *testing.T, contacts []model.Contact, externalID string) model.Contact {
	t.Helper()
	for _, c := range contacts {
		if c.ExternalID == externalID {
			return c
		}
	}
	require.Failf(t, "contact not found", "%s", externalID)
	return model.Contact{}
}

func testMergesRepeatedIngestion(t *testing.T, s registrystore.Store) {
	ctx := context.Background()
	ingest(t, s, "a@x.com", `{"tier":"gold"}`, "c1", "", "hello")
	ingest(t, s, "a@x.com", `{"region":"us"}`, "c1", "", "world")

	detail, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", detail.Conversation.ExternalID)
	assert.JSONEq(t, `{}`, string(detail.Conversation.Data))
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "hello", detail.Messages[0].Text)
	assert.Equal(t, "world", detail.Messages[1].Text)
	assert.JSONEq(t, `{}`, string(detail.Messages[0].Data))
	require.Len(t, detail.Contacts, 1)
	assert.JSONEq(t, `{"tier":"gold","region":"us"}`, string(detail.Contacts[0].Data))
	assert.True(t, detail.Contacts[0].UpdatedAt.After(detail.Contacts[0].CreatedAt))

	page, err := s.ListConversations(ctx, registrystore.ListQuery{Limit: 20})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.TotalCount)
	assert.Equal(t, int64(2), page.Items[0].MessageCount)
}

func testCollectsDistinctSenders(t *testing.T, s registrystore.Store) {
	ctx := context.Background()
	for i, sender := range []string{"u1", "u2", "u1", "u3", "u2"} {
		ingest(t, s, sender, "", "room", "", fmt.Sprintf("m%d", i))
	}

	detail, err := s.GetConversation(ctx, "room")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 5)
	for i, m := range detail.Messages {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Text)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(detail.Messages[i-1].CreatedAt))
		}
	}
	require.Len(t, detail.Contacts, 3)
	ids := []string{detail.Contacts[0].ExternalID, detail.Contacts[1].ExternalID, detail.Contacts[2].ExternalID}
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, ids)
}

func testGetUnknownConversation(t *testing.T, s registrystore.Store) {
	_, err := s.GetConversation(context.Background(), "missing")
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)
	assert.Equal(t, "missing", nf.ID)
}

func testNullDataKeepsDocument(t *testing.T, s registrystore.Store) {
	ctx := context.Background()
	ingest(t, s, "bob", `{"name":"Bob"}`, "c-null", `{"topic":"billing"}`, "one")
	ingest(t, s, "bob", "", "c-null", "", "two")

	detail, err := s.GetConversation(ctx, "c-null")
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"billing"}`, string(detail.Conversation.Data))
	assert.JSONEq(t, `{"name":"Bob"}`, string(contactByID(t, detail.Contacts, "bob").Data))
}

func testNestedMergeAndNulls(t *testing.T, s registrystore.Store) {
	ctx := context.Background()
	ingest(t, s, "carol", `{"profile":{"tier":"silver","region":"eu"},"tags":["a","b"]}`, "c-nested", "", "one")
	ingest(t, s, "carol", `{"profile":{"tier":"gold","region":null},"tags":["c"]}`, "c-nested", "", "two")

	detail, err := s.GetConversation(ctx, "c-nested")
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"profile":{"tier":"gold","region":null},"tags":["c"]}`,
		string(contactByID(t, detail.Contacts, "carol").Data))
}

func testListAggregatesAndOrder(t *testing.T, s registrystore.Store) {
	ctx := context.Background()
	ingest(t, s, "u1", "", "conv-b", "", "b1")
	ingest(t, s, "u1", "", "conv-a", "", "a1")
	ingest(t, s, "u2", "", "conv-b", "", "b2")
	ingest(t, s, "u2", "", "conv-b", "", "b3")

	page, err := s.ListConversations(ctx, registrystore.ListQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.TotalCount)

	// storage order is creation order
	assert.Equal(t, "conv-b", page.Items[0].ExternalID)
	assert.Equal(t, "conv-a", page.Items[1].ExternalID)
	assert.Equal(t, int64(3), page.Items[0].MessageCount)
	assert.Equal(t, int64(1), page.Items[1].MessageCount)

	detail, err := s.GetConversation(ctx, "conv-b")
	require.NoError(t, err)
	require.NotNil(t, page.Items[0].LastMessageAt)
	assert.Equal(t,
		detail.Messages[len(detail.Messages)-1].CreatedAt.UnixMilli(),
		page.Items[0].LastMessageAt.UnixMilli())
}

func testListSearch(t *testing.T, s registrystore.Store) {
	ctx := context.Background()
	ingest(t, s, "u1", "", "Support-1", "", "x")
	ingest(t, s, "u1", "", "sales-1", "", "x")
	ingest(t, s, "u1", "", "SUPPORT-2", "", "x")
	ingest(t, s, "u1", "", "50%_off", "", "x")

	page, err := s.ListConversations(ctx, registrystore.ListQuery{Search: "support", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Support-1", page.Items[0].ExternalID)
	assert.Equal(t, "SUPPORT-2", page.Items[1].ExternalID)

	page, err = s.ListConversations(ctx, registrystore.ListQuery{Search: "%", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.TotalCount)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "50%_off", page.Items[0].ExternalID)

	page, err = s.ListConversations(ctx, registrystore.ListQuery{Search: "nomatch", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.TotalCount)
	assert.Empty(t, page.Items)
}

func testListPaging(t *testing.T, s registrystore.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ingest(t, s, "u1", "", fmt.Sprintf("p-%d", i), "", "x")
	}

	page, err := s.ListConversations(ctx, registrystore.ListQuery{Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "p-2", page.Items[0].ExternalID)
	assert.Equal(t, "p-3", page.Items[1].ExternalID)

	page, err = s.ListConversations(ctx, registrystore.ListQuery{Offset: 10, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.TotalCount)
	assert.Empty(t, page.Items)
}

func testConcurrentMerges(t *testing.T, s registrystore.Store) {
	ctx := context.Background()
	const writers = 5
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.IngestMessage(ctx, registrystore.IngestRequest{
				ContactExternalID:      "shared",
				ContactData:            document.MustParse(fmt.Sprintf(`{"k%d":%d}`, i, i)),
				ConversationExternalID: "c-race",
				ConversationData:       document.MustParse(fmt.Sprintf(`{"w%d":true}`, i)),
				MessageText:            fmt.Sprintf("m%d", i),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	detail, err := s.GetConversation(ctx, "c-race")
	require.NoError(t, err)
	require.Len(t, detail.Messages, writers)

	contact, err := document.Parse(contactByID(t, detail.Contacts, "shared").Data)
	require.NoError(t, err)
	conv, err := document.Parse(detail.Conversation.Data)
	require.NoError(t, err)
	for i := 0; i < writers; i++ {
		_, ok := contact.Field(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "contact lost k%d", i)
		_, ok = conv.Field(fmt.Sprintf("w%d", i))
		assert.True(t, ok, "conversation lost w%d", i)
	}
}
