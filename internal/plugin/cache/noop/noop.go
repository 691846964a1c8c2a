package noop

import (
	"context"

	"github.com/chirino/conversation-hub/internal/registry/cache"
	"github.com/chirino/conversation-hub/internal/registry/store"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.DetailCache, error) {
			return New(), nil
		},
	})
}

// New returns a cache that never holds anything.
func New() cache.DetailCache { return noopCache{} }

type noopCache struct{}

func (noopCache) Available() bool { return false }
func (noopCache) Generation(context.Context) (int64, error) { return 0, nil }
func (noopCache) Invalidate(context.Context) error { return nil }
func (noopCache) Close() error { return nil }
func (noopCache) Get(context.Context, int64, string) (*store.ConversationDetail, error) {
	return nil, nil
}
func (noopCache) Set(context.Context, int64, string, *store.ConversationDetail) error { return nil }

var _ cache.DetailCache = noopCache{}
