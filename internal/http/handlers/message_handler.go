// Message HTTP handlers.
//
//   - POST /conversations/{id}/messages   (send, idempotent with Idempotency-Key)
//   - GET  /conversations/{id}/messages   (cursor-paginated history, ETag on the first page)
//   - POST /conversations/{id}/read       (advance the caller's read marker)
//
// A successful send is persisted first and then announced to the
// conversation's live connections as a "message.created" event.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
	"github.com/tbourn/workfair-chat-backend/internal/http/middleware"
	"github.com/tbourn/workfair-chat-backend/internal/repo"
	"github.com/tbourn/workfair-chat-backend/internal/services"
	"github.com/tbourn/workfair-chat-backend/internal/utils"
)

// EventMessageCreated is the realtime event type for persisted sends.
const EventMessageCreated = "message.created"

// SendMessageRequest is the JSON payload for sending a message.
type SendMessageRequest struct {
	Text string `json:"text" example:"안녕하세요! 지원해주셔서 감사합니다."`
}

// MarkReadRequest optionally names the newest message the caller has seen.
type MarkReadRequest struct {
	LastReadMessageID *string `json:"last_read_message_id,omitempty"`
}

// Event is the JSON frame pushed to websocket subscribers.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Message        *domain.Message `json:"message,omitempty"`
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Persists a message (with best-effort language detection) and broadcasts it to connected participants.
// @Description Supports idempotency via the Idempotency-Key header.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       X-User-ID        header  string  false  "Caller id when token auth is disabled"  example(user-1)
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true   "Conversation ID"
// @Param       body             body    handlers.SendMessageRequest  true  "Message"
// @Success     201  {object}  domain.Message
// @Success     200  {object}  domain.Message  "Replayed result"
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or too long text"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	uid := userID(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	svc, _ := h.msgSvc.(*services.MessageService)
	idemKey, _ := middleware.GetIdempotencyKey(c)

	// Replay path.
	if idemKey != "" && middleware.IsReplay(c) && svc != nil {
		if rec, err := repo.GetIdempotency(ctx, svc.DB, uid, convID, idemKey, time.Now().UTC()); err == nil {
			if prev, err := repo.GetMessage(ctx, svc.DB, rec.MessageID); err == nil {
				c.Header(middleware.HeaderIdempotencyReplayed, "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	m, err := h.msgSvc.SendMessage(ctx, convID, uid, req.Text)
	if err != nil {
		failService(c, err)
		return
	}

	// Store path (best effort).
	if idemKey != "" && svc != nil {
		if _, err := repo.CreateIdempotency(ctx, svc.DB, uid, convID, idemKey, m.ID, http.StatusCreated, h.IdempotencyTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}

	h.broadcast(c, convID, Event{Type: EventMessageCreated, ConversationID: convID, Message: m})
	ok(c, http.StatusCreated, m)
}

// broadcast never fails the request: the message is already stored and
// clients can recover it from history.
func (h *Handlers) broadcast(c *gin.Context, convID string, ev Event) {
	if h.pub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("encode event")
		return
	}
	d := h.pub.Publish(c.Request.Context(), convID, payload, nil)
	middleware.LoggerFrom(c).Debug().
		Str("event", ev.Type).
		Int("delivered", d.Delivered).
		Int("failed", d.Failed).
		Msg("event broadcast")
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a conversation
// @Description Returns up to `limit` messages older than `cursor` in chronological order. `next_cursor` is set when older messages remain.
// @Description The first page (no cursor) carries a weak ETag and honors If-None-Match.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       X-User-ID      header  string  false  "Caller id when token auth is disabled"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       id             path    string  true   "Conversation ID"
// @Param       cursor         query   string  false  "Message ID to page before"
// @Param       limit          query   int     false  "Page size"  minimum(1) maximum(100) default(50)
// @Success     200  {object}  services.MessagePage
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid cursor"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	uid := userID(c)
	cursor := c.Query("cursor")
	limit := utils.Clamp(c.Query("limit"), services.DefaultPageLimit, services.MaxPageLimit)

	if svc, isSvc := h.msgSvc.(*services.MessageService); isSvc && svc.DB != nil && cursor == "" {
		if err := h.convSvc.Authorize(ctx, convID, uid); err != nil {
			failService(c, err)
			return
		}
		if count, maxCreated, maxRead, err := repo.MessagesStats(ctx, svc.DB, convID); err == nil {
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%d"`, convID, count, nanos(maxCreated), nanos(maxRead), limit)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, err := h.msgSvc.ListPage(ctx, convID, uid, cursor, limit)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

func nanos(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark messages read
// @Description Advances the caller's read marker to the given message (or to now). The marker never moves backwards.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       X-User-ID  header  string  false  "Caller id when token auth is disabled"
// @Param       id         path    string  true   "Conversation ID"
// @Param       body       body    handlers.MarkReadRequest  false  "Read marker"
// @Success     200  {object}  domain.Participant
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation or message not found"
// @Router      /conversations/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.msgSvc.MarkRead(c.Request.Context(), c.Param("id"), userID(c), req.LastReadMessageID)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}
