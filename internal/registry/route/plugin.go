package route

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chirino/conversation-hub/internal/service"
	"github.com/gin-gonic/gin"
)

// Deps are the services route plugins mount handlers for.
type Deps struct {
	// Auth guards every /api route.
	Auth          gin.HandlerFunc
	Ingest        *service.IngestService
	Conversations *service.ConversationService
}

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine, deps Deps) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain registers routes on the main API server.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers routes on the management server (health, metrics).
	// When no dedicated management port is configured, these are mounted on the main server.
	RouteTypeManagement
)

// Plugin represents a route plugin with an order for deterministic mount sequence.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

func byType(t RouteType) []RouterLoader {
	mu.Lock()
	defer mu.Unlock()
	sorted := make([]Plugin, 0, len(plugins))
	for _, p := range plugins {
		if p.Type == t {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	loaders := make([]RouterLoader, len(sorted))
	for i, p := range sorted {
		loaders[i] = p.Loader
	}
	return loaders
}

// MainRouteLoaders returns loaders for RouteTypeMain plugins, sorted by order.
func MainRouteLoaders() []RouterLoader { return byType(RouteTypeMain) }

// ManagementRouteLoaders returns loaders for RouteTypeManagement plugins, sorted by order.
func ManagementRouteLoaders() []RouterLoader { return byType(RouteTypeManagement) }

// Mount runs every loader of the given type against r.
func Mount(r *gin.Engine, t RouteType, deps Deps) error {
	for _, loader := range byType(t) {
		if err := loader(r, deps); err != nil {
			return fmt.Errorf("failed to load routes: %w", err)
		}
	}
	return nil
}
