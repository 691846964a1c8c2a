package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/chirino/conversation-hub/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	ingestErr error
	getErr    error
}

func (s *stubStore) IngestMessage(context.Context, store.IngestRequest) error { return s.ingestErr }

func (s *stubStore) GetConversation(_ context.Context, id string) (*store.ConversationDetail, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &store.ConversationDetail{}, nil
}

func (s *stubStore) ListConversations(context.Context, store.ListQuery) (*store.ConversationPage, error) {
	return &store.ConversationPage{}, nil
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestWrapCountsFailures(t *testing.T) {
	security.InitMetrics(prometheus.Labels{"service": "test"})

	inner := &stubStore{
		ingestErr: errors.New("boom"),
		getErr:    &store.NotFoundError{Resource: "conversation", ID: "c1"},
	}
	s := Wrap(inner)

	ingestBefore := counterValue(t, security.StoreErrorsTotal.WithLabelValues("ingest_message"))
	getBefore := counterValue(t, security.StoreErrorsTotal.WithLabelValues("get_conversation"))

	require.Error(t, s.IngestMessage(context.Background(), store.IngestRequest{}))
	_, err := s.GetConversation(context.Background(), "c1")
	var nf *store.NotFoundError
	require.True(t, errors.As(err, &nf))
	_, err = s.ListConversations(context.Background(), store.ListQuery{Limit: 20})
	require.NoError(t, err)

	assert.Equal(t, ingestBefore+1, counterValue(t, security.StoreErrorsTotal.WithLabelValues("ingest_message")))
	assert.Equal(t, getBefore, counterValue(t, security.StoreErrorsTotal.WithLabelValues("get_conversation")))
}
