package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-hub/internal/document"
	"github.com/chirino/conversation-hub/internal/model"
)

// IngestRequest carries one inbound message together with the attribute
// documents to merge into its sender and conversation.
type IngestRequest struct {
	ContactExternalID      string
	ContactData            document.Value
	ConversationExternalID string
	ConversationData       document.Value
	MessageText            string
	MessageData            document.Value
}

// ConversationDetail is a conversation with its messages and participants.
type ConversationDetail struct {
	Conversation model.Conversation `json:"conversation"`
	Contacts     []model.Contact    `json:"contacts"`
	Messages     []model.Message    `json:"messages"`
}

// ConversationSummary is one listing row with its message aggregates.
type ConversationSummary struct {
	model.Conversation
	MessageCount  int64      `json:"messageCount"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
}

// ListQuery selects one page of conversations in storage order.
type ListQuery struct {
	Search string
	Offset int
	Limit  int
}

// ConversationPage is the page selected by a ListQuery plus the number of
// conversations matching its search.
type ConversationPage struct {
	Items      []ConversationSummary
	TotalCount int64
}

// Store persists contacts, conversations and messages.
type Store interface {
	// IngestMessage merges the contact and conversation documents and appends
	// the message in a single transaction.
	IngestMessage(ctx context.Context, req IngestRequest) error
	// GetConversation returns NotFoundError when the external id is unknown.
	GetConversation(ctx context.Context, externalID string) (*ConversationDetail, error)
	ListConversations(ctx context.Context, q ListQuery) (*ConversationPage, error)
}

// Loader creates a Store from config.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
