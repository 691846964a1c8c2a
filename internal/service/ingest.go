// Package service holds the message ingestion and conversation query logic
// that sits between the HTTP handlers and the store.
package service

import (
	"context"

	"github.com/chirino/conversation-hub/internal/document"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/chirino/conversation-hub/internal/security"
)

// IngestInput is the body of an ingestion request.
type IngestInput struct {
	ContactExternalID      string         `json:"contactExternalId"`
	ContactData            document.Value `json:"contactData"`
	ConversationExternalID string         `json:"conversationExternalId"`
	ConversationData       document.Value `json:"conversationData"`
	MessageText            string         `json:"messageText"`
	MessageData            document.Value `json:"messageData"`
}

// Validate checks required fields in a fixed order and that attribute
// documents, when given, are objects.
func (in IngestInput) Validate() error {
	required := []struct{ field, value string }{
		{"contactExternalId", in.ContactExternalID},
		{"conversationExternalId", in.ConversationExternalID},
		{"messageText", in.MessageText},
	}
	for _, r := range required {
		if r.value == "" {
			return &registrystore.ValidationError{Field: r.field, Message: r.field + " is required"}
		}
	}
	documents := []struct {
		field string
		value document.Value
	}{
		{"contactData", in.ContactData},
		{"conversationData", in.ConversationData},
		{"messageData", in.MessageData},
	}
	for _, d := range documents {
		if !d.value.IsNull() && !d.value.IsObject() {
			return &registrystore.ValidationError{Field: d.field, Message: d.field + " must be an object"}
		}
	}
	return nil
}

// IngestService accepts inbound messages.
type IngestService struct {
	store registrystore.Store
}

func NewIngestService(store registrystore.Store) *IngestService {
	return &IngestService{store: store}
}

// Ingest validates the input then merges the contact and conversation
// documents and stores the message atomically.
func (s *IngestService) Ingest(ctx context.Context, in IngestInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	err := s.store.IngestMessage(ctx, registrystore.IngestRequest{
		ContactExternalID:      in.ContactExternalID,
		ContactData:            in.ContactData,
		ConversationExternalID: in.ConversationExternalID,
		ConversationData:       in.ConversationData,
		MessageText:            in.MessageText,
		MessageData:            in.MessageData,
	})
	if err != nil {
		return err
	}
	if security.IngestedMessagesTotal != nil {
		security.IngestedMessagesTotal.Inc()
	}
	return nil
}
