package serve

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/conversation-hub/internal/config"
	"github.com/chirino/conversation-hub/internal/integrations/paramstore"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/api/conversation-message", readBodyLengthHandler)

	for body, want := range map[string]int{"0123": http.StatusOK, "0123456789": http.StatusRequestEntityTooLarge} {
		req := httptest.NewRequest(http.MethodPost, "/api/conversation-message", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, body)
	}
}

func TestMaxBodySizeMiddleware_ZeroDisablesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(0))
	router.POST("/api/conversation-message", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/conversation-message", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Body.String())
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

type stubGetter struct {
	value string
	err   error
	asked string
}

func (s *stubGetter) GetParameter(_ context.Context, name string) (string, error) {
	s.asked = name
	return s.value, s.err
}

func useSecretSource(t *testing.T, g paramstore.Getter, err error) {
	t.Helper()
	prev := secretSource
	secretSource = func(context.Context) (paramstore.Getter, error) { return g, err }
	t.Cleanup(func() { secretSource = prev })
}

func TestResolveAPISecret(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit secret wins", func(t *testing.T) {
		getter := &stubGetter{value: "from-ssm"}
		useSecretSource(t, getter, nil)
		cfg := config.DefaultConfig()
		cfg.APISecret = " direct "
		cfg.APISecretSSMParameter = "/hub/secret"

		secret, err := resolveAPISecret(ctx, &cfg)
		require.NoError(t, err)
		require.Equal(t, "direct", secret)
		require.Empty(t, getter.asked)
	})

	t.Run("falls back to parameter store", func(t *testing.T) {
		getter := &stubGetter{value: "from-ssm"}
		useSecretSource(t, getter, nil)
		cfg := config.DefaultConfig()
		cfg.APISecretSSMParameter = "/hub/secret"

		secret, err := resolveAPISecret(ctx, &cfg)
		require.NoError(t, err)
		require.Equal(t, "from-ssm", secret)
		require.Equal(t, "/hub/secret", getter.asked)
	})

	t.Run("parameter store failure", func(t *testing.T) {
		useSecretSource(t, &stubGetter{err: errors.New("access denied")}, nil)
		cfg := config.DefaultConfig()
		cfg.APISecretSSMParameter = "/hub/secret"

		_, err := resolveAPISecret(ctx, &cfg)
		require.ErrorContains(t, err, "access denied")
	})

	t.Run("nothing configured", func(t *testing.T) {
		cfg := config.DefaultConfig()
		_, err := resolveAPISecret(ctx, &cfg)
		require.ErrorContains(t, err, "API secret is required")
	})
}
