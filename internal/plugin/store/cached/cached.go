// Package cached serves conversation details from a DetailCache in front of a Store.
package cached

import (
	"context"
	"sync/atomic"

	"github.com/charmbracelet/log"
	registrycache "github.com/chirino/conversation-hub/internal/registry/cache"
	"github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/chirino/conversation-hub/internal/security"
)

// Wrap returns inner unchanged when c is nil or unavailable.
func Wrap(inner store.Store, c registrycache.DetailCache) store.Store {
	if c == nil || !c.Available() {
		return inner
	}
	return &cachedStore{inner: inner, cache: c}
}

type cachedStore struct {
	inner store.Store
	cache registrycache.DetailCache
	// stale is set when a committed ingestion could not invalidate. Reads
	// bypass the cache until a later invalidation succeeds.
	stale atomic.Bool
}

// IngestMessage invalidates after the commit. A cache failure does not fail
// an ingestion that is already durable.
func (s *cachedStore) IngestMessage(ctx context.Context, req store.IngestRequest) error {
	if err := s.inner.IngestMessage(ctx, req); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *cachedStore) invalidate(ctx context.Context) bool {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.stale.Store(true)
		log.Warn("Cache invalidate failed, bypassing cache", "err", err)
		return false
	}
	s.stale.Store(false)
	return true
}

func (s *cachedStore) GetConversation(ctx context.Context, externalID string) (*store.ConversationDetail, error) {
	if s.stale.Load() && !s.invalidate(ctx) {
		countLookup("bypass")
		return s.inner.GetConversation(ctx, externalID)
	}
	generation, err := s.cache.Generation(ctx)
	if err != nil {
		log.Warn("Cache generation lookup failed", "err", err)
		countLookup("bypass")
		return s.inner.GetConversation(ctx, externalID)
	}
	if detail, err := s.cache.Get(ctx, generation, externalID); err != nil {
		log.Warn("Cache get failed", "conversation", externalID, "err", err)
	} else if detail != nil {
		countLookup("hit")
		return detail, nil
	}
	countLookup("miss")

	detail, err := s.inner.GetConversation(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, generation, externalID, detail); err != nil {
		log.Warn("Cache set failed", "conversation", externalID, "err", err)
	}
	return detail, nil
}

func (s *cachedStore) ListConversations(ctx context.Context, q store.ListQuery) (*store.ConversationPage, error) {
	return s.inner.ListConversations(ctx, q)
}

func countLookup(result string) {
	if security.CacheLookupsTotal != nil {
		security.CacheLookupsTotal.WithLabelValues(result).Inc()
	}
}
