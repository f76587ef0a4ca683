// Conversation HTTP handlers.
//
//   - POST   /conversations        (create)
//   - GET    /conversations        (list caller's inbox, paginated, ETag)
//   - GET    /conversations/{id}   (get)
//   - DELETE /conversations/{id}   (delete with cascade)
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/workfair-chat-backend/internal/repo"
	"github.com/tbourn/workfair-chat-backend/internal/services"
	"github.com/tbourn/workfair-chat-backend/internal/utils"
)

// CreateConversationRequest lists the other participants; the caller is
// always added.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1" example:"user-2"`
}

// Pagination carries page metadata for inbox listings.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse is a page of the caller's conversations.
type ListConversationsResponse struct {
	Conversations []services.ConversationSummary `json:"conversations"`
	Pagination    Pagination                     `json:"pagination"`
}

// CreateConversation godoc
// @ID          createConversation
// @Summary     Start a conversation
// @Description Creates a conversation between the caller and the listed participants (at least one other user).
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       X-User-ID  header  string  false  "Caller id when token auth is disabled"  example(user-1)
// @Param       body       body    handlers.CreateConversationRequest  true  "Participants"
// @Success     201  {object}  services.ConversationView
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "participant_ids required")
		return
	}
	view, err := h.convSvc.Create(c.Request.Context(), userID(c), req.ParticipantIDs)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, view)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List the caller's conversations
// @Description Most recently active first, each with its last message and unread count. Supports weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       X-User-ID      header  string  false  "Caller id when token auth is disabled"  example(user-1)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListConversationsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page := utils.Clamp(c.Query("page"), 1, 0)
	pageSize := utils.Clamp(c.Query("page_size"), 20, 100)

	// ETag pre-check (best effort).
	if svc, isSvc := h.convSvc.(*services.ConversationService); isSvc && svc.DB != nil {
		count, maxTS, err := repo.ConversationsStats(ctx, svc.DB, uid)
		var unread int64
		if err == nil {
			unread, err = repo.UnreadTotal(ctx, svc.DB, uid)
		}
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"conversations:%s:%d:%d:%d:%d:%d"`, uid, count, ts, unread, page, pageSize)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.convSvc.ListForUser(ctx, uid, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
// @Param       X-User-ID  header  string  false  "Caller id when token auth is disabled"
// @Param       id         path    string  true   "Conversation ID"
// @Success     200  {object}  services.ConversationView
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	view, err := h.convSvc.Get(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation
// @Description Removes the conversation with its participants, messages and cached translations.
// @Tags        Conversations
// @Security    BearerAuth
// @Param       X-User-ID  header  string  false  "Caller id when token auth is disabled"
// @Param       id         path    string  true   "Conversation ID"
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	if err := h.convSvc.Delete(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
