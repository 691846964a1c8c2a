package messages_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chirino/conversation-hub/internal/config"
	"github.com/chirino/conversation-hub/internal/plugin/route/messages"
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
	messages.MountRoutes(r, service.NewIngestService(store), auth)
	return r
}

func post(r http.Handler, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/conversation-message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(security.APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateMessage(t *testing.T) {
	store := newSQLiteStore(t)
	r := newRouter(store)

	w := post(r, `{"contactExternalId":"a@x.com","contactData":{"tier":"gold"},"conversationExternalId":"c1","messageText":"hello","messageData":{"channel":"email"}}`, secret)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = post(r, `{"contactExternalId":"a@x.com","contactData":{"region":"us"},"conversationExternalId":"c1","messageText":"world"}`, secret)
	require.Equal(t, http.StatusCreated, w.Code)

	detail, err := store.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	assert.JSONEq(t, `{"channel":"email"}`, string(detail.Messages[0].Data))
	assert.JSONEq(t, `{}`, string(detail.Messages[1].Data))
	require.Len(t, detail.Contacts, 1)
	assert.JSONEq(t, `{"tier":"gold","region":"us"}`, string(detail.Contacts[0].Data))
}

func TestCreateMessageRequiresAPIKey(t *testing.T) {
	r := newRouter(newSQLiteStore(t))
	body := `{"contactExternalId":"a","conversationExternalId":"c","messageText":"m"}`

	w := post(r, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", gjson.Get(w.Body.String(), "error").String())

	assert.Equal(t, http.StatusUnauthorized, post(r, body, "wrong").Code)
}

func TestCreateMessageValidation(t *testing.T) {
	r := newRouter(newSQLiteStore(t))
	cases := []struct {
		body  string
		field string
	}{
		{`{"conversationExternalId":"c","messageText":"m"}`, "contactExternalId"},
		{`{"contactExternalId":"","conversationExternalId":"c","messageText":"m"}`, "contactExternalId"},
		{`{"contactExternalId":"a","messageText":"m"}`, "conversationExternalId"},
		{`{"contactExternalId":"a","conversationExternalId":"c","messageText":""}`, "messageText"},
		{`{"contactExternalId":"a","conversationExternalId":"c","messageText":"m","contactData":"vip"}`, "contactData"},
	}
	for _, tc := range cases {
		w := post(r, tc.body, secret)
		require.Equal(t, http.StatusBadRequest, w.Code, tc.body)
		body := w.Body.String()
		assert.Equal(t, "validation_error", gjson.Get(body, "code").String())
		assert.Equal(t, tc.field, gjson.Get(body, "field").String())
	}
}

func TestCreateMessageMalformedBody(t *testing.T) {
	r := newRouter(newSQLiteStore(t))
	w := post(r, `{"contactExternalId":`, secret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", gjson.Get(w.Body.String(), "code").String())
}

type failingStore struct{ registrystore.Store }

func (failingStore) IngestMessage(context.Context, registrystore.IngestRequest) error {
	return &registrystore.StorageError{Op: "ingest message", Err: errors.New("password=hunter2 connection refused")}
}

func TestCreateMessageHidesInternalErrors(t *testing.T) {
	r := newRouter(failingStore{})
	w := post(r, `{"contactExternalId":"a","conversationExternalId":"c","messageText":"m"}`, secret)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to create conversation message"}`, w.Body.String())
}
