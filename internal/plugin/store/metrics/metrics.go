package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/chirino/conversation-hub/internal/security"
)

// Wrap returns a Store that records StoreLatency and StoreErrorsTotal for every operation.
func Wrap(inner store.Store) store.Store {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.Store
}

func observe(op string, start time.Time, err *error) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if security.StoreErrorsTotal == nil || *err == nil {
		return
	}
	var notFound *store.NotFoundError
	if errors.As(*err, &notFound) {
		return
	}
	security.StoreErrorsTotal.WithLabelValues(op).Inc()
}

func (m *metricsStore) IngestMessage(ctx context.Context, req store.IngestRequest) (err error) {
	defer observe("ingest_message", time.Now(), &err)
	return m.inner.IngestMessage(ctx, req)
}

func (m *metricsStore) GetConversation(ctx context.Context, externalID string) (_ *store.ConversationDetail, err error) {
	defer observe("get_conversation", time.Now(), &err)
	return m.inner.GetConversation(ctx, externalID)
}

func (m *metricsStore) ListConversations(ctx context.Context, q store.ListQuery) (_ *store.ConversationPage, err error) {
	defer observe("list_conversations", time.Now(), &err)
	return m.inner.ListConversations(ctx, q)
}
