package service

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strconv"
	"strings"

	registrystore "github.com/chirino/conversation-hub/internal/registry/store"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

const invalidPagination = "Invalid pagination parameters. Page must be >= 1, limit must be 1-100"

// SortField names a listing sort key.
type SortField string

const (
	SortByExternalID    SortField = "externalId"
	SortByCreatedAt     SortField = "createdAt"
	SortByLastMessageAt SortField = "lastMessageAt"
	SortByMessageCount  SortField = "messageCount"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// RawListParams are listing query parameters as received. Empty means unset.
type RawListParams struct {
	Page      string
	Limit     string
	Search    string
	SortBy    string
	SortOrder string
}

// ListParams are validated listing parameters.
type ListParams struct {
	Page      int
	Limit     int
	Search    string
	SortBy    SortField
	SortOrder SortOrder
}

// ParseListParams applies defaults and validates raw listing parameters.
func ParseListParams(raw RawListParams) (ListParams, error) {
	p := ListParams{
		Page:      DefaultPage,
		Limit:     DefaultLimit,
		Search:    raw.Search,
		SortBy:    SortByLastMessageAt,
		SortOrder: SortDesc,
	}
	var err error
	if p.Page, err = parseIntParam("page", raw.Page, DefaultPage); err != nil {
		return p, err
	}
	if p.Limit, err = parseIntParam("limit", raw.Limit, DefaultLimit); err != nil {
		return p, err
	}
	if p.Page < 1 {
		return p, &registrystore.ValidationError{Field: "page", Message: invalidPagination}
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return p, &registrystore.ValidationError{Field: "limit", Message: invalidPagination}
	}

	if raw.SortBy != "" {
		p.SortBy = SortField(raw.SortBy)
	}
	switch p.SortBy {
	case SortByExternalID, SortByCreatedAt, SortByLastMessageAt, SortByMessageCount:
	default:
		return p, &registrystore.ValidationError{Field: "sortBy", Message: "Invalid sortBy parameter"}
	}

	if raw.SortOrder != "" {
		p.SortOrder = SortOrder(raw.SortOrder)
	}
	if p.SortOrder != SortAsc && p.SortOrder != SortDesc {
		return p, &registrystore.ValidationError{Field: "sortOrder", Message: "Invalid sortOrder parameter"}
	}
	return p, nil
}

func parseIntParam(field, raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &registrystore.ValidationError{Field: field, Message: invalidPagination}
	}
	return n, nil
}

// Pagination describes the requested page and the size of the filtered set.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int64 `json:"totalPages"`
}

// ConversationList is one page of conversations.
type ConversationList struct {
	Conversations []registrystore.ConversationSummary `json:"conversations"`
	Pagination    Pagination                          `json:"pagination"`
}

// ConversationService answers conversation queries.
type ConversationService struct {
	store registrystore.Store
}

func NewConversationService(store registrystore.Store) *ConversationService {
	return &ConversationService{store: store}
}

// Get returns a conversation with its messages and the contacts who sent them.
func (s *ConversationService) Get(ctx context.Context, externalID string) (*registrystore.ConversationDetail, error) {
	return s.store.GetConversation(ctx, externalID)
}

// List selects the requested page in storage order and then sorts only that
// page, so the sort key does not decide which conversations land on a page.
func (s *ConversationService) List(ctx context.Context, p ListParams) (*ConversationList, error) {
	page, err := s.store.ListConversations(ctx, registrystore.ListQuery{
		Search: p.Search,
		Offset: pageOffset(p.Page, p.Limit),
		Limit:  p.Limit,
	})
	if err != nil {
		return nil, err
	}
	items := page.Items
	if items == nil {
		items = []registrystore.ConversationSummary{}
	}
	SortSummaries(items, p.SortBy, p.SortOrder)

	totalPages := (page.TotalCount + int64(p.Limit) - 1) / int64(p.Limit)
	return &ConversationList{
		Conversations: items,
		Pagination: Pagination{
			Page:       p.Page,
			Limit:      p.Limit,
			TotalCount: page.TotalCount,
			TotalPages: totalPages,
		},
	}, nil
}

// pageOffset saturates at math.MaxInt so a page far past the end stays past
// the end instead of wrapping to a negative offset.
func pageOffset(page, limit int) int {
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

// SortSummaries orders items in place. Ties keep their incoming order.
// Timestamps compare at millisecond precision and a missing lastMessageAt
// sorts as zero.
func SortSummaries(items []registrystore.ConversationSummary, by SortField, order SortOrder) {
	compare := func(a, b registrystore.ConversationSummary) int {
		switch by {
		case SortByCreatedAt:
			return cmp.Compare(a.CreatedAt.UnixMilli(), b.CreatedAt.UnixMilli())
		case SortByMessageCount:
			return cmp.Compare(a.MessageCount, b.MessageCount)
		case SortByExternalID:
			return strings.Compare(strings.ToLower(a.ExternalID), strings.ToLower(b.ExternalID))
		default:
			return cmp.Compare(lastMessageMillis(a), lastMessageMillis(b))
		}
	}
	if order == SortDesc {
		slices.SortStableFunc(items, func(a, b registrystore.ConversationSummary) int { return compare(b, a) })
		return
	}
	slices.SortStableFunc(items, compare)
}

func lastMessageMillis(s registrystore.ConversationSummary) int64 {
	if s.LastMessageAt == nil {
		return 0
	}
	return s.LastMessageAt.UnixMilli()
}
