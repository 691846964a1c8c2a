package model

import (
	"time"

	"github.com/chirino/conversation-hub/internal/document"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Contact is a participant identified by an externally assigned id.
type Contact struct {
	ID         uuid.UUID      `json:"id"         gorm:"primaryKey;type:uuid"`
	ExternalID string         `json:"externalId" gorm:"not null;uniqueIndex"`
	Data       datatypes.JSON `json:"data"       gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `json:"createdAt"  gorm:"not null"`
	UpdatedAt  time.Time      `json:"updatedAt"  gorm:"not null"`
}

func (Contact) TableName() string { return "contacts" }

// Conversation is a thread identified by an externally assigned id.
type Conversation struct {
	ID         uuid.UUID      `json:"id"         gorm:"primaryKey;type:uuid"`
	ExternalID string         `json:"externalId" gorm:"not null;uniqueIndex"`
	Data       datatypes.JSON `json:"data"       gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `json:"createdAt"  gorm:"not null"`
	UpdatedAt  time.Time      `json:"updatedAt"  gorm:"not null"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is immutable once written. It references its conversation and
// sender by external id.
type Message struct {
	ID                     uuid.UUID      `json:"id"                     gorm:"primaryKey;type:uuid"`
	ConversationExternalID string         `json:"conversationExternalId" gorm:"not null;index"`
	ContactExternalID      string         `json:"contactExternalId"      gorm:"not null"`
	Text                   string         `json:"text"                   gorm:"not null"`
	Data                   datatypes.JSON `json:"data"                   gorm:"type:jsonb;not null"`
	CreatedAt              time.Time      `json:"createdAt"              gorm:"not null"`
	UpdatedAt              time.Time      `json:"updatedAt"              gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// EncodeData renders a document for a JSON column. Null becomes {}.
func EncodeData(v document.Value) (datatypes.JSON, error) {
	if v.IsNull() {
		return datatypes.JSON("{}"), nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodeData reads a JSON column back into a document.
func DecodeData(raw datatypes.JSON) (document.Value, error) {
	return document.Parse(raw)
}
