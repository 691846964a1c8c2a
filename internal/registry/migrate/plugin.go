package migrate

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
)

// Migrator brings one backend's schema up to date. Implementations read the
// config from ctx and return nil when their backend is not selected.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin orders a Migrator; lower Order runs first.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	mu.Lock()
	defer mu.Unlock()
	out := slices.Clone(plugins)
	slices.SortStableFunc(out, func(a, b Plugin) int { return a.Order - b.Order })
	return out
}

// Names lists registered migrators in run order.
func Names() []string {
	var names []string
	for _, p := range sorted() {
		names = append(names, p.Migrator.Name())
	}
	return names
}

// RunAll runs every registered migrator in order and stops at the first failure.
func RunAll(ctx context.Context) error {
	for _, p := range sorted() {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug("Migrator", "name", p.Migrator.Name(), "order", p.Order)
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
