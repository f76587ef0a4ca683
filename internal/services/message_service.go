// Package services – MessageService
//
// MessageService owns the message lifecycle inside a conversation: it
// validates and persists sends (with best-effort language detection), serves
// cursor-paginated history and advances participants' read markers.
//
// Sends do not notify anyone. Fan-out is the caller's job (the HTTP layer
// publishes through the realtime hub after a successful send).
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
	"github.com/tbourn/workfair-chat-backend/internal/repo"
	"github.com/tbourn/workfair-chat-backend/internal/translate"
)

// Page size bounds for ListPage.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// MessagePage is one window of conversation history in chronological order.
type MessagePage struct {
	Items      []domain.Message `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

// MessageService coordinates message persistence and read state.
type MessageService struct {
	DB *gorm.DB

	// Detector fills Message.DetectedLang. Nil disables detection.
	Detector translate.Detector

	// Optional guard; 0 disables the limit.
	MaxTextRunes int
}

// SendMessage validates text, checks membership and persists a new message,
// bumping the conversation's updated_at in the same transaction.
func (s *MessageService) SendMessage(ctx context.Context, conversationID, senderID, text string) (*domain.Message, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return nil, ErrTextTooLong
	}
	if _, err := authorizeMember(ctx, s.DB, conversationID, senderID); err != nil {
		return nil, err
	}

	lang := s.detect(text)
	if lang != nil {
		span.SetAttributes(attribute.String("message.detected_lang", *lang))
	}

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(ctx, tx, conversationID, senderID, text, lang)
		if err != nil {
			return err
		}
		if err := repo.TouchConversation(ctx, tx, conversationID, m.CreatedAt); err != nil {
			return err
		}
		msg = m
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// detect never fails the send; an unclassifiable text leaves the tag unset.
func (s *MessageService) detect(text string) *string {
	if s.Detector == nil {
		return nil
	}
	tag, ok := s.Detector.Detect(text)
	if !ok || tag == "" || tag == translate.Unknown {
		return nil
	}
	return &tag
}

// ListPage returns up to limit messages older than cursor (a message id, or
// empty for the newest page). Items are chronological; NextCursor is the
// oldest returned id and is set only when older messages remain.
func (s *MessageService) ListPage(ctx context.Context, conversationID, userID, cursor string, limit int) (*MessagePage, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
			attribute.String("cursor", cursor),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if _, err := authorizeMember(ctx, s.DB, conversationID, userID); err != nil {
		return nil, err
	}

	var before *domain.Message
	if cursor != "" {
		m, err := repo.GetMessage(ctx, s.DB, cursor)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCursor
		}
		if err != nil {
			return nil, err
		}
		if m.ConversationID != conversationID {
			return nil, ErrInvalidCursor
		}
		before = m
	}

	// One extra row tells us whether another page exists.
	rows, err := repo.ListMessagesBefore(ctx, s.DB, conversationID, before, limit+1)
	if err != nil {
		return nil, err
	}
	page := &MessagePage{}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	if rows == nil {
		rows = []domain.Message{}
	}
	page.Items = rows
	if page.HasMore {
		page.NextCursor = rows[0].ID
	}
	return page, nil
}

// MarkRead advances the caller's read marker. With a lastReadMessageID the
// marker is that message's timestamp (the message must belong to the
// conversation); without one it is now. The marker never moves backwards,
// and messages from other senders up to it get read_at stamped once.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, userID string, lastReadMessageID *string) (*domain.Participant, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := authorizeMember(ctx, s.DB, conversationID, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	marker := now
	if lastReadMessageID != nil && *lastReadMessageID != "" {
		m, err := repo.GetMessage(ctx, s.DB, *lastReadMessageID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		if err != nil {
			return nil, err
		}
		if m.ConversationID != conversationID {
			return nil, ErrMessageNotFound
		}
		marker = m.CreatedAt
	} else {
		lastReadMessageID = nil
	}

	var out *domain.Participant
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.AdvanceLastRead(ctx, tx, conversationID, userID, marker, lastReadMessageID)
		if err != nil {
			return err
		}
		n, err := repo.StampRead(ctx, tx, conversationID, userID, marker, now)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int64("messages.stamped", n))
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
