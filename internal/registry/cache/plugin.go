package cache

import (
	"context"
	"fmt"

	"github.com/chirino/conversation-hub/internal/registry/store"
)

// DetailCache holds rendered conversation details keyed by generation.
//
// Contacts are shared across conversations, so one ingestion can change the
// detail of any conversation its sender participates in. Invalidate therefore
// moves every reader to a fresh generation instead of evicting single keys;
// entries written under an older generation are never read again and age out.
type DetailCache interface {
	Available() bool
	Generation(ctx context.Context) (int64, error)
	Invalidate(ctx context.Context) error
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, generation int64, externalID string) (*store.ConversationDetail, error)
	Set(ctx context.Context, generation int64, externalID string, detail *store.ConversationDetail) error
	Close() error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (DetailCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
