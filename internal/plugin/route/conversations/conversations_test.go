package conversations_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chirino/conversation-hub/internal/config"
	"github.com/chirino/conversation-hub/internal/document"
	"github.com/chirino/conversation-hub/internal/plugin/route/conversations"
	"github.com/chirino/conversation-hub/internal/plugin/store/sqlite"
	"github.com/chirino/conversation-hub/internal/plugin/store/sqlstore"
	"github.com/chirino/conversation-hub/internal/plugin/store/storetest"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/chirino/conversation-hub/internal/security"
	"github.com/chirino/conversation-hub/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const secret = "test-secret"

func newSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DBURL = filepath.Join(t.TempDir(), "hub.db")
	db, err := sqlite.Open(&cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, sqlstore.ApplySchema(context.Background(), db, "sqlite"))
	return sqlstore.New(db, sqlstore.WithClock(storetest.NewClock().Now))
}

func newRouter(store registrystore.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := security.APIKeyMiddleware(security.NewSecretVerifier(secret))
	conversations.MountRoutes(r, service.NewConversationService(store), auth)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(security.APIKeyHeader, secret)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func ingest(t *testing.T, store registrystore.Store, contact, conv, text string) {
	t.Helper()
	require.NoError(t, store.IngestMessage(context.Background(), registrystore.IngestRequest{
		ContactExternalID:      contact,
		ContactData:            document.MustParse(`{"name":"` + contact + `"}`),
		ConversationExternalID: conv,
		ConversationData:       document.MustParse(`{"topic":"support"}`),
		MessageText:            text,
	}))
}

func TestGetConversation(t *testing.T) {
	store := newSQLiteStore(t)
	ingest(t, store, "alice", "c1", "hi")
	ingest(t, store, "bob", "c1", "hello")
	ingest(t, store, "alice", "c1", "bye")
	r := newRouter(store)

	w := get(r, "/api/conversations/c1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := w.Body.String()

	assert.Equal(t, "c1", gjson.Get(body, "conversation.externalId").String())
	assert.Equal(t, "support", gjson.Get(body, "conversation.data.topic").String())
	assert.True(t, gjson.Get(body, "conversation.id").Exists())
	assert.True(t, gjson.Get(body, "conversation.createdAt").Exists())
	assert.Equal(t, `["hi","hello","bye"]`, gjson.Get(body, "messages.#.text").Raw)
	assert.Equal(t, `["alice","bob","alice"]`, gjson.Get(body, "messages.#.contactExternalId").Raw)
	assert.Equal(t, int64(2), gjson.Get(body, "contacts.#").Int())
	assert.ElementsMatch(t, []string{"alice", "bob"}, []string{
		gjson.Get(body, "contacts.0.externalId").String(),
		gjson.Get(body, "contacts.1.externalId").String(),
	})
}

func TestGetConversationNotFound(t *testing.T) {
	w := get(newRouter(newSQLiteStore(t)), "/api/conversations/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Conversation not found", gjson.Get(w.Body.String(), "error").String())
}

func TestListConversations(t *testing.T) {
	store := newSQLiteStore(t)
	ingest(t, store, "u1", "conv-a", "a1")
	ingest(t, store, "u1", "conv-b", "b1")
	ingest(t, store, "u2", "conv-b", "b2")
	ingest(t, store, "u1", "conv-c", "c1")
	r := newRouter(store)

	w := get(r, "/api/conversations")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := w.Body.String()
	// default: lastMessageAt desc
	assert.Equal(t, `["conv-c","conv-b","conv-a"]`, gjson.Get(body, "conversations.#.externalId").Raw)
	assert.Equal(t, `[1,2,1]`, gjson.Get(body, "conversations.#.messageCount").Raw)
	assert.True(t, gjson.Get(body, "conversations.0.lastMessageAt").Exists())
	assert.Equal(t, "support", gjson.Get(body, "conversations.0.data.topic").String())
	assert.JSONEq(t, `{"page":1,"limit":20,"totalCount":3,"totalPages":1}`, gjson.Get(body, "pagination").Raw)

	w = get(r, "/api/conversations?sortBy=messageCount&sortOrder=desc")
	assert.Equal(t, `["conv-b","conv-a","conv-c"]`, gjson.Get(w.Body.String(), "conversations.#.externalId").Raw)

	w = get(r, "/api/conversations?search=CONV-B")
	assert.Equal(t, `["conv-b"]`, gjson.Get(w.Body.String(), "conversations.#.externalId").Raw)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "pagination.totalCount").Int())
}

func TestListConversationsPagesBeforeSorting(t *testing.T) {
	store := newSQLiteStore(t)
	ingest(t, store, "u1", "first", "x")
	ingest(t, store, "u1", "second", "x")
	ingest(t, store, "u1", "third", "x")
	ingest(t, store, "u1", "third", "y")
	r := newRouter(store)

	// page 1 holds the two oldest conversations even though "third" has the most messages
	w := get(r, "/api/conversations?limit=2&page=1&sortBy=messageCount")
	body := w.Body.String()
	assert.Equal(t, `["first","second"]`, gjson.Get(body, "conversations.#.externalId").Raw)
	assert.JSONEq(t, `{"page":1,"limit":2,"totalCount":3,"totalPages":2}`, gjson.Get(body, "pagination").Raw)

	w = get(r, "/api/conversations?limit=2&page=2")
	assert.Equal(t, `["third"]`, gjson.Get(w.Body.String(), "conversations.#.externalId").Raw)

	w = get(r, "/api/conversations?limit=2&page=9")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `[]`, gjson.Get(w.Body.String(), "conversations").Raw)
}

func TestListConversationsHugePageIsEmpty(t *testing.T) {
	store := newSQLiteStore(t)
	ingest(t, store, "u1", "conv-a", "a1")
	ingest(t, store, "u1", "conv-b", "b1")
	ingest(t, store, "u1", "conv-c", "c1")
	r := newRouter(store)

	for _, page := range []string{"92233720368547760", "92233720368547759"} {
		w := get(r, "/api/conversations?limit=100&page="+page)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, `[]`, gjson.Get(w.Body.String(), "conversations").Raw, page)
		assert.Equal(t, int64(3), gjson.Get(w.Body.String(), "pagination.totalCount").Int(), page)
	}
}

func TestListConversationsValidation(t *testing.T) {
	r := newRouter(newSQLiteStore(t))
	cases := map[string]string{
		"/api/conversations?page=0":       "Invalid pagination parameters. Page must be >= 1, limit must be 1-100",
		"/api/conversations?limit=101":    "Invalid pagination parameters. Page must be >= 1, limit must be 1-100",
		"/api/conversations?sortBy=foo":   "Invalid sortBy parameter",
		"/api/conversations?sortOrder=up": "Invalid sortOrder parameter",
	}
	for path, msg := range cases {
		w := get(r, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, msg, gjson.Get(w.Body.String(), "error").String(), path)
	}
}

func TestListConversationsRequiresAPIKey(t *testing.T) {
	r := newRouter(newSQLiteStore(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type brokenStore struct{ registrystore.Store }

func (brokenStore) ListConversations(context.Context, registrystore.ListQuery) (*registrystore.ConversationPage, error) {
	return nil, &registrystore.StorageError{Op: "list conversations", Err: errors.New("timeout")}
}

func (brokenStore) GetConversation(context.Context, string) (*registrystore.ConversationDetail, error) {
	return nil, errors.New("timeout")
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	r := newRouter(brokenStore{})

	w := get(r, "/api/conversations")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch conversations"}`, w.Body.String())

	w = get(r, "/api/conversations/c1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch conversation"}`, w.Body.String())
}
