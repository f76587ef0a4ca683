// Package services – ConversationService
//
// ConversationService creates conversations among participants, lists a
// user's conversations with their latest message and unread count, and
// enforces membership for every conversation-scoped operation.
package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
	"github.com/tbourn/workfair-chat-backend/internal/repo"
)

// ConversationView is a conversation with its membership.
type ConversationView struct {
	domain.Conversation
	Participants []domain.Participant `json:"participants"`
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	domain.Conversation
	ParticipantIDs []string        `json:"participant_ids"`
	LastMessage    *domain.Message `json:"last_message,omitempty"`
	UnreadCount    int64           `json:"unread_count"`
}

// ConversationService manages conversations and membership checks.
type ConversationService struct {
	DB *gorm.DB
}

// Create starts a conversation between creatorID and participantIDs. The
// creator is always a member; duplicates and blanks are dropped.
func (s *ConversationService) Create(ctx context.Context, creatorID string, participantIDs []string) (*ConversationView, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", creatorID)),
	)
	defer span.End()

	members := uniqueIDs(append([]string{creatorID}, participantIDs...))
	if len(members) < 2 {
		return nil, ErrInvalidParticipants
	}
	conv, parts, err := repo.CreateConversation(ctx, s.DB, members)
	if err != nil {
		return nil, err
	}
	return &ConversationView{Conversation: *conv, Participants: parts}, nil
}

// Get returns a conversation the caller participates in.
func (s *ConversationService) Get(ctx context.Context, id, userID string) (*ConversationView, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("conversation.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	conv, err := s.authorize(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	parts, err := repo.ListParticipants(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	return &ConversationView{Conversation: *conv, Participants: parts}, nil
}

// ListForUser returns a page of the user's conversations, most recently
// active first, along with the total count.
func (s *ConversationService) ListForUser(ctx context.Context, userID string, page, pageSize int) ([]ConversationSummary, int64, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "ListForUser",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := repo.CountConversationsForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []ConversationSummary{}, 0, nil
	}

	convs, err := repo.ListConversationsForUser(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		sum, err := s.summarize(ctx, c, userID)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sum)
	}
	return out, total, nil
}

func (s *ConversationService) summarize(ctx context.Context, c domain.Conversation, userID string) (ConversationSummary, error) {
	sum := ConversationSummary{Conversation: c}

	parts, err := repo.ListParticipants(ctx, s.DB, c.ID)
	if err != nil {
		return sum, err
	}
	var self *domain.Participant
	for i := range parts {
		sum.ParticipantIDs = append(sum.ParticipantIDs, parts[i].UserID)
		if parts[i].UserID == userID {
			self = &parts[i]
		}
	}
	sort.Strings(sum.ParticipantIDs)

	last, err := repo.LatestMessage(ctx, s.DB, c.ID)
	switch {
	case err == nil:
		sum.LastMessage = last
	case !errors.Is(err, repo.ErrNotFound):
		return sum, err
	}

	var since *time.Time
	if self != nil {
		since = self.LastReadAt
	}
	sum.UnreadCount, err = repo.CountUnread(ctx, s.DB, c.ID, userID, since)
	return sum, err
}

// Delete removes a conversation and everything it owns. Only participants
// may delete.
func (s *ConversationService) Delete(ctx context.Context, id, userID string) error {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("conversation.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.authorize(ctx, id, userID); err != nil {
		return err
	}
	if err := repo.DeleteConversation(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// Authorize reports whether userID may act on the conversation. It returns
// ErrConversationNotFound or ErrNotParticipant otherwise.
func (s *ConversationService) Authorize(ctx context.Context, id, userID string) error {
	_, err := s.authorize(ctx, id, userID)
	return err
}

func (s *ConversationService) authorize(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	return authorizeMember(ctx, s.DB, id, userID)
}

// authorizeMember loads the conversation and checks membership.
func authorizeMember(ctx context.Context, db *gorm.DB, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := repo.GetConversation(ctx, db, conversationID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetParticipant(ctx, db, conversationID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}
	return conv, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
