package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
	"github.com/tbourn/workfair-chat-backend/internal/http/middleware"
	"github.com/tbourn/workfair-chat-backend/internal/realtime"
	"github.com/tbourn/workfair-chat-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ConversationService manages conversations and membership.
type ConversationService interface {
	Create(ctx context.Context, creatorID string, participantIDs []string) (*services.ConversationView, error)
	Get(ctx context.Context, id, userID string) (*services.ConversationView, error)
	ListForUser(ctx context.Context, userID string, page, pageSize int) ([]services.ConversationSummary, int64, error)
	Delete(ctx context.Context, id, userID string) error
	// Authorize returns nil when userID participates in conversation id.
	Authorize(ctx context.Context, id, userID string) error
}

// MessageService sends, lists and marks messages read.
type MessageService interface {
	SendMessage(ctx context.Context, conversationID, senderID, text string) (*domain.Message, error)
	ListPage(ctx context.Context, conversationID, userID, cursor string, limit int) (*services.MessagePage, error)
	MarkRead(ctx context.Context, conversationID, userID string, lastReadMessageID *string) (*domain.Participant, error)
}

// TranslationService translates stored messages on demand.
type TranslationService interface {
	TranslateMessage(ctx context.Context, in services.TranslateInput) (*services.Translation, error)
}

// Publisher fans events out to a conversation's live connections.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, payload []byte, exclude realtime.Subscriber) realtime.Delivery
}

// SocketServer runs one realtime connection for an authorized caller.
type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, conversationID, userID string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. Publisher and SocketServer are
// optional; without them sends are not broadcast and the websocket route
// answers 503.
type Handlers struct {
	convSvc ConversationService
	msgSvc  MessageService
	trSvc   TranslationService

	pub Publisher
	ws  SocketServer

	// IdempotencyTTL bounds how long a send can be replayed.
	IdempotencyTTL time.Duration
}

// New constructs Handlers bound to the given services.
func New(convSvc ConversationService, msgSvc MessageService, trSvc TranslationService, pub Publisher, ws SocketServer) *Handlers {
	return &Handlers{
		convSvc:        convSvc,
		msgSvc:         msgSvc,
		trSvc:          trSvc,
		pub:            pub,
		ws:             ws,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// userID returns the caller resolved by middleware.Identity.
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}
