package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the conversation hub.
type Config struct {
	// Datastore backend type: "postgres" or "sqlite".
	DatastoreType string

	// DBURL is a postgres connection URL or a sqlite file path/DSN.
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int
	// How often the open-connections gauge is refreshed.
	DBPoolStatsInterval time.Duration

	// APISecret is the shared secret every /api request must present in X-API-Key.
	APISecret string
	// APISecretSSMParameter names an AWS SSM parameter holding the shared secret.
	// Used only when APISecret is empty.
	APISecretSSMParameter string

	// CacheType selects the conversation detail cache: "none" or "redis".
	CacheType string
	// RedisURL is required when CacheType is "redis".
	RedisURL string
	// CacheTTL bounds how long a cached detail may be served.
	CacheTTL time.Duration

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// SeedFile is a YAML fixture file for the seed command. Empty uses the built-in fixtures.
	SeedFile string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		DBPoolStatsInterval:     15 * time.Second,
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		MetricsLabels:           "service=conversation-hub",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		MaxBodySize:  1024 * 1024,
		DrainTimeout: 30,
	}
}
