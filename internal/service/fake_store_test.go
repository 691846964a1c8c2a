package service

import (
	"context"

	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
)

type fakeStore struct {
	ingested  []registrystore.IngestRequest
	ingestErr error

	page      *registrystore.ConversationPage
	lastQuery registrystore.ListQuery
	listErr   error

	detail *registrystore.ConversationDetail
	getErr error
}

func (f *fakeStore) IngestMessage(_ context.Context, req registrystore.IngestRequest) error {
	if f.ingestErr != nil {
		return f.ingestErr
	}
	f.ingested = append(f.ingested, req)
	return nil
}

func (f *fakeStore) GetConversation(_ context.Context, externalID string) (*registrystore.ConversationDetail, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.detail == nil {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: externalID}
	}
	return f.detail, nil
}

func (f *fakeStore) ListConversations(_ context.Context, q registrystore.ListQuery) (*registrystore.ConversationPage, error) {
	f.lastQuery = q
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.page == nil {
		return &registrystore.ConversationPage{}, nil
	}
	return f.page, nil
}
