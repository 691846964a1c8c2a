package security

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the shared secret on every API request.
const APIKeyHeader = "X-API-Key"

var (
	errMissingKey = errors.New("missing API key")
	errInvalidKey = errors.New("invalid API key")
)

// AuthError indicates the caller did not present the shared secret.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "unauthorized: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// SecretVerifier checks presented keys against the server-held secret.
type SecretVerifier struct {
	secret []byte
}

// NewSecretVerifier creates a verifier. An empty secret rejects every key.
func NewSecretVerifier(secret string) *SecretVerifier {
	return &SecretVerifier{secret: []byte(secret)}
}

// Verify returns an AuthError unless presented matches the secret exactly.
func (v *SecretVerifier) Verify(presented string) error {
	if presented == "" {
		return &AuthError{Err: errMissingKey}
	}
	if len(v.secret) == 0 || subtle.ConstantTimeCompare([]byte(presented), v.secret) != 1 {
		return &AuthError{Err: errInvalidKey}
	}
	return nil
}

// APIKeyMiddleware rejects requests whose X-API-Key header does not match the secret.
func APIKeyMiddleware(v *SecretVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Verify(c.GetHeader(APIKeyHeader)); err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
