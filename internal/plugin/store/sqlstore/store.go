// Package sqlstore implements the conversation store on top of GORM. The
// postgres and sqlite plugins share it and differ only in how they connect.
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/conversation-hub/internal/document"
	"github.com/chirino/conversation-hub/internal/model"
	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	contactsTable      = "contacts"
	conversationsTable = "conversations"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements registrystore.Store using GORM.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ registrystore.Store = (*Store)(nil)

// New wraps an open GORM connection whose schema has been applied.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// timestamp returns the current time at the precision postgres keeps.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// documentRow is the shape shared by the contacts and conversations tables.
type documentRow struct {
	ID         uuid.UUID
	ExternalID string
	Data       datatypes.JSON
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s *Store) IngestMessage(ctx context.Context, req registrystore.IngestRequest) error {
	now := s.timestamp()
	messageData, err := model.EncodeData(req.MessageData)
	if err != nil {
		return fmt.Errorf("failed to encode message data: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertDocument(tx, contactsTable, req.ContactExternalID, req.ContactData, now); err != nil {
			return err
		}
		if err := upsertDocument(tx, conversationsTable, req.ConversationExternalID, req.ConversationData, now); err != nil {
			return err
		}
		msg := model.Message{
			ID:                     uuid.New(),
			ConversationExternalID: req.ConversationExternalID,
			ContactExternalID:      req.ContactExternalID,
			Text:                   req.MessageText,
			Data:                   messageData,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return &registrystore.StorageError{Op: "ingest message", Err: err}
	}
	return nil
}

// upsertDocument merges incoming into the row for externalID, creating the
// row when it does not exist yet. The row stays locked until tx ends.
func upsertDocument(tx *gorm.DB, table, externalID string, incoming document.Value, now time.Time) error {
	existing, err := lockDocument(tx, table, externalID)
	if err != nil {
		return err
	}
	if existing == nil {
		data, err := model.EncodeData(incoming)
		if err != nil {
			return fmt.Errorf("failed to encode %s data: %w", table, err)
		}
		row := documentRow{ID: uuid.New(), ExternalID: externalID, Data: data, CreatedAt: now, UpdatedAt: now}
		res := tx.Table(table).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
			Create(&row)
		if res.Error != nil {
			return fmt.Errorf("failed to insert %s %q: %w", table, externalID, res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
		// A concurrent ingestion created the row first; merge into theirs.
		existing, err = lockDocument(tx, table, externalID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%s %q missing after insert conflict", table, externalID)
		}
	}

	stored, err := model.DecodeData(existing.Data)
	if err != nil {
		return fmt.Errorf("failed to decode stored %s data: %w", table, err)
	}
	merged, err := model.EncodeData(document.Merge(stored, incoming))
	if err != nil {
		return fmt.Errorf("failed to encode %s data: %w", table, err)
	}
	err = tx.Table(table).
		Where("id = ?", existing.ID).
		Updates(map[string]any{"data": merged, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to update %s %q: %w", table, externalID, err)
	}
	return nil
}

func lockDocument(tx *gorm.DB, table, externalID string) (*documentRow, error) {
	var rows []documentRow
	err := tx.Table(table).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_id = ?", externalID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %q: %w", table, externalID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Store) GetConversation(ctx context.Context, externalID string) (*registrystore.ConversationDetail, error) {
	db := s.db.WithContext(ctx)

	var convs []model.Conversation
	if err := db.Where("external_id = ?", externalID).Limit(1).Find(&convs).Error; err != nil {
		return nil, &registrystore.StorageError{Op: "get conversation", Err: err}
	}
	if len(convs) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: externalID}
	}

	messages := []model.Message{}
	err := db.Where("conversation_external_id = ?", externalID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, &registrystore.StorageError{Op: "list messages", Err: err}
	}

	contacts := []model.Contact{}
	if senders := uniqueSenders(messages); len(senders) > 0 {
		err := db.Where("external_id IN ?", senders).
			Order("created_at ASC, external_id ASC").
			Find(&contacts).Error
		if err != nil {
			return nil, &registrystore.StorageError{Op: "list contacts", Err: err}
		}
	}

	return &registrystore.ConversationDetail{
		Conversation: convs[0],
		Contacts:     contacts,
		Messages:     messages,
	}, nil
}

func uniqueSenders(messages []model.Message) []string {
	seen := make(map[string]struct{}, len(messages))
	var out []string
	for _, m := range messages {
		if _, ok := seen[m.ContactExternalID]; ok {
			continue
		}
		seen[m.ContactExternalID] = struct{}{}
		out = append(out, m.ContactExternalID)
	}
	return out
}

type messageAggregate struct {
	ConversationExternalID string
	MessageCount           int64
	LastMessageAt          nullTime
}

func (s *Store) ListConversations(ctx context.Context, q registrystore.ListQuery) (*registrystore.ConversationPage, error) {
	db := s.db.WithContext(ctx)
	filtered := func() *gorm.DB {
		tx := db.Model(&model.Conversation{})
		if q.Search != "" {
			tx = tx.Where(`LOWER(external_id) LIKE ? ESCAPE '\'`, containsPattern(q.Search))
		}
		return tx
	}

	var (
		total int64
		rows  []model.Conversation
	)
	var g errgroup.Group
	g.Go(func() error {
		if err := filtered().Count(&total).Error; err != nil {
			return &registrystore.StorageError{Op: "count conversations", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		err := filtered().
			Order("created_at ASC, external_id ASC").
			Offset(q.Offset).
			Limit(q.Limit).
			Find(&rows).Error
		if err != nil {
			return &registrystore.StorageError{Op: "list conversations", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := &registrystore.ConversationPage{
		Items:      make([]registrystore.ConversationSummary, 0, len(rows)),
		TotalCount: total,
	}
	if len(rows) == 0 {
		return page, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ExternalID
	}
	var aggs []messageAggregate
	err := db.Model(&model.Message{}).
		Select("conversation_external_id, COUNT(*) AS message_count, MAX(created_at) AS last_message_at").
		Where("conversation_external_id IN ?", ids).
		Group("conversation_external_id").
		Scan(&aggs).Error
	if err != nil {
		return nil, &registrystore.StorageError{Op: "aggregate messages", Err: err}
	}
	byID := make(map[string]messageAggregate, len(aggs))
	for _, a := range aggs {
		byID[a.ConversationExternalID] = a
	}

	for _, r := range rows {
		item := registrystore.ConversationSummary{Conversation: r}
		if a, ok := byID[r.ExternalID]; ok {
			item.MessageCount = a.MessageCount
			if a.LastMessageAt.Valid {
				t := a.LastMessageAt.Time
				item.LastMessageAt = &t
			}
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// containsPattern builds a case-insensitive LIKE pattern matching s anywhere.
func containsPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}
