package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-hub/internal/config"
	"github.com/chirino/conversation-hub/internal/integrations/paramstore"
	routesystem "github.com/chirino/conversation-hub/internal/plugin/route/system"
	storecached "github.com/chirino/conversation-hub/internal/plugin/store/cached"
	storemetrics "github.com/chirino/conversation-hub/internal/plugin/store/metrics"
	registrymigrate "github.com/chirino/conversation-hub/internal/registry/migrate"
	registrycache "github.com/chirino/conversation-hub/internal/registry/cache"
	registryroute "github.com/chirino/conversation-hub/internal/registry/route"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/chirino/conversation-hub/internal/security"
	"github.com/chirino/conversation-hub/internal/service"
	"github.com/gin-gonic/gin"

	// Cache, route and store plugins register themselves in init().
	_ "github.com/chirino/conversation-hub/internal/plugin/cache/noop"
	_ "github.com/chirino/conversation-hub/internal/plugin/cache/redis"
	_ "github.com/chirino/conversation-hub/internal/plugin/route/conversations"
	_ "github.com/chirino/conversation-hub/internal/plugin/route/messages"
	_ "github.com/chirino/conversation-hub/internal/plugin/store/postgres"
	_ "github.com/chirino/conversation-hub/internal/plugin/store/sqlite"
)

// Server holds the running listeners and the store behind them.
type Server struct {
	Config     *config.Config
	Store      registrystore.Store
	Router     *gin.Engine
	Main       *Listener
	Management *Listener

	closeStore func() error
	closeCache func() error
}

// Port is the bound main port, useful when cfg.Listener.Port was 0.
func (s *Server) Port() int { return s.Main.Port }

// Shutdown marks the service unready, drains both listeners and closes the
// cache and store.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	var errs []error
	if err := s.Management.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("management listener: %w", err))
	}
	if err := s.Main.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("main listener: %w", err))
	}
	if s.closeCache != nil {
		if err := s.closeCache(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if s.closeStore != nil {
		if err := s.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// secretSource builds the parameter store client used when only an SSM
// parameter name is configured. Tests replace it.
var secretSource = func(ctx context.Context) (paramstore.Getter, error) {
	return paramstore.NewFromEnvironment(ctx)
}

// resolveAPISecret returns cfg.APISecret, or fetches it from SSM when only
// cfg.APISecretSSMParameter is set.
func resolveAPISecret(ctx context.Context, cfg *config.Config) (string, error) {
	if secret := strings.TrimSpace(cfg.APISecret); secret != "" {
		return secret, nil
	}
	if strings.TrimSpace(cfg.APISecretSSMParameter) == "" {
		return "", errors.New("an API secret is required: set --api-secret or --api-secret-ssm-parameter")
	}
	getter, err := secretSource(ctx)
	if err != nil {
		return "", err
	}
	secret, err := getter.GetParameter(ctx, cfg.APISecretSSMParameter)
	if err != nil {
		return "", fmt.Errorf("failed to read API secret: %w", err)
	}
	log.Info("Loaded API secret from parameter store", "parameter", cfg.APISecretSSMParameter)
	return secret, nil
}

// StartServer runs migrations, opens the store and starts the HTTP listeners.
// Use cfg.Listener.Port=0 for a random port; the bound port is Server.Port().
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting conversation hub",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"managementPort", managementPortLabel(cfg),
	)
	ctx = config.WithContext(ctx, cfg)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	secret, err := resolveAPISecret(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	srv := &Server{Config: cfg}
	if closer, ok := store.(io.Closer); ok {
		srv.closeStore = closer.Close
	}
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		routesystem.SetReadinessCheck(pinger.Ping)
	}

	detailCache, err := LoadCache(ctx, cfg)
	if err != nil {
		return nil, srv.abort(err)
	}
	srv.closeCache = detailCache.Close
	srv.Store = storemetrics.Wrap(storecached.Wrap(store, detailCache))

	deps := registryroute.Deps{
		Auth:          security.APIKeyMiddleware(security.NewSecretVerifier(secret)),
		Ingest:        service.NewIngestService(srv.Store),
		Conversations: service.NewConversationService(srv.Store),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}
	if err := registryroute.Mount(router, registryroute.RouteTypeMain, deps); err != nil {
		return nil, srv.abort(err)
	}
	srv.Router = router

	// Management routes get their own port only when one was requested.
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter, registryroute.RouteTypeManagement, deps); err != nil {
			return nil, srv.abort(err)
		}
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		if mgmtCfg.ReadHeaderTimeout == 0 {
			mgmtCfg.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
		}
		if srv.Management, err = Listen("management", mgmtCfg, mgmtRouter); err != nil {
			return nil, srv.abort(err)
		}
		log.Info("Management server listening", "port", srv.Management.Port)
	} else if err := registryroute.Mount(router, registryroute.RouteTypeManagement, deps); err != nil {
		return nil, srv.abort(err)
	}

	if srv.Main, err = Listen("main", cfg.Listener, router); err != nil {
		return nil, srv.abort(err)
	}
	log.Info("Server listening",
		"port", srv.Main.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return srv, nil
}

// LoadCache opens the detail cache named by cfg.CacheType.
func LoadCache(ctx context.Context, cfg *config.Config) (registrycache.DetailCache, error) {
	loader, err := registrycache.Select(cfg.CacheType)
	if err != nil {
		return nil, err
	}
	c, err := loader(config.WithContext(ctx, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return c, nil
}

// abort releases whatever StartServer opened before err.
func (s *Server) abort(err error) error {
	if shutdownErr := s.Shutdown(context.Background()); shutdownErr != nil {
		log.Warn("Cleanup after failed start", "err", shutdownErr)
	}
	return err
}

func managementPortLabel(cfg *config.Config) any {
	if !cfg.ManagementListenerEnabled {
		return "shared"
	}
	return cfg.ManagementListener.Port
}
