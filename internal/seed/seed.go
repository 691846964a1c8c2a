// Package seed loads demo conversations through the ingestion path.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-hub/internal/document"
	"github.com/chirino/conversation-hub/internal/service"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixtures is the YAML seed format.
type Fixtures struct {
	Contacts      []Contact      `yaml:"contacts"`
	Conversations []Conversation `yaml:"conversations"`
}

type Contact struct {
	ExternalID string         `yaml:"externalId"`
	Data       map[string]any `yaml:"data"`
}

// Conversation lists its messages in send order. ContactData and
// ConversationData are merged in with the conversation's last message.
type Conversation struct {
	ExternalID       string                    `yaml:"externalId"`
	Data             map[string]any            `yaml:"data"`
	Messages         []Message                 `yaml:"messages"`
	ContactData      map[string]map[string]any `yaml:"contactData"`
	ConversationData map[string]any            `yaml:"conversationData"`
}

type Message struct {
	From string         `yaml:"from"`
	Role string         `yaml:"role"`
	Text string         `yaml:"text"`
	Data map[string]any `yaml:"data"`
}

// Stats counts what Apply sent.
type Stats struct {
	Contacts      int
	Conversations int
	Messages      int
}

// Default returns the built-in demo fixtures.
func Default() (*Fixtures, error) {
	return Decode(bytes.NewReader(defaultFixtures))
}

// LoadFile reads fixtures from path, or the built-in set when path is empty.
func LoadFile(path string) (*Fixtures, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses YAML fixtures and checks that every sender is a known contact.
func Decode(r io.Reader) (*Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode seed fixtures: %w", err)
	}
	known := make(map[string]bool, len(fx.Contacts))
	for _, c := range fx.Contacts {
		if c.ExternalID == "" {
			return nil, fmt.Errorf("seed contact without externalId")
		}
		known[c.ExternalID] = true
	}
	for _, conv := range fx.Conversations {
		if conv.ExternalID == "" {
			return nil, fmt.Errorf("seed conversation without externalId")
		}
		for i, m := range conv.Messages {
			if !known[m.From] {
				return nil, fmt.Errorf("conversation %s message %d: unknown contact %q", conv.ExternalID, i, m.From)
			}
		}
	}
	return &fx, nil
}

// Apply replays every fixture message through ingest. Existing rows are
// merged into, never deleted.
func Apply(ctx context.Context, ingest *service.IngestService, fx *Fixtures) (Stats, error) {
	var stats Stats
	contacts := make(map[string]map[string]any, len(fx.Contacts))
	for _, c := range fx.Contacts {
		contacts[c.ExternalID] = c.Data
	}
	seenContacts := map[string]bool{}

	for _, conv := range fx.Conversations {
		topic, _ := conv.Data["topic"].(string)
		for i, m := range conv.Messages {
			last := i == len(conv.Messages)-1
			in, err := messageInput(conv, m, contacts[m.From], topic, i == 0, last)
			if err != nil {
				return stats, fmt.Errorf("conversation %s message %d: %w", conv.ExternalID, i, err)
			}
			if err := ingest.Ingest(ctx, in); err != nil {
				return stats, fmt.Errorf("conversation %s message %d: %w", conv.ExternalID, i, err)
			}
			if !seenContacts[m.From] {
				seenContacts[m.From] = true
				stats.Contacts++
			}
			stats.Messages++
		}
		stats.Conversations++
		log.Debug("Seeded conversation", "externalId", conv.ExternalID, "messages", len(conv.Messages))
	}
	return stats, nil
}

func messageInput(conv Conversation, m Message, contactData map[string]any, topic string, first, last bool) (service.IngestInput, error) {
	in := service.IngestInput{
		ContactExternalID:      m.From,
		ConversationExternalID: conv.ExternalID,
		MessageText:            m.Text,
	}
	var err error
	if in.ContactData, err = toDocument(contactData); err != nil {
		return in, err
	}
	if first {
		if in.ConversationData, err = toDocument(conv.Data); err != nil {
			return in, err
		}
	}
	if last {
		if in.ConversationData, err = mergeInto(in.ConversationData, conv.ConversationData); err != nil {
			return in, err
		}
		if in.ContactData, err = mergeInto(in.ContactData, conv.ContactData[m.From]); err != nil {
			return in, err
		}
	}

	data := map[string]any{}
	for k, v := range m.Data {
		data[k] = v
	}
	if m.Role != "" {
		data["messageType"] = m.Role
	}
	if topic != "" {
		data["topic"] = topic
	}
	in.MessageData, err = toDocument(data)
	return in, err
}

func toDocument(m map[string]any) (document.Value, error) {
	if m == nil {
		return document.Null(), nil
	}
	return document.FromAny(m)
}

func mergeInto(base document.Value, extra map[string]any) (document.Value, error) {
	if extra == nil {
		return base, nil
	}
	v, err := document.FromAny(extra)
	if err != nil {
		return base, err
	}
	return document.Merge(base, v), nil
}
