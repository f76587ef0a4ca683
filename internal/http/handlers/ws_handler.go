package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/workfair-chat-backend/internal/http/middleware"
)

// ServeWS godoc
// @ID          connectConversation
// @Summary     Join a conversation's realtime channel
// @Description Upgrades to a websocket. Each JSON text frame the client sends is relayed as-is to the
// @Description conversation's other connections; relayed frames are not stored. Persisted sends arrive as "message.created" events.
// @Tags        Realtime
// @Param       id       path   string  true   "Conversation ID"
// @Param       token    query  string  false  "Bearer token when token auth is enabled"
// @Param       user_id  query  string  false  "Caller id when token auth is disabled"
// @Success     101  {string}  string  "Switching Protocols"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /ws/conversations/{id} [get]
func (h *Handlers) ServeWS(c *gin.Context) {
	if h.ws == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "realtime gateway disabled")
		return
	}
	convID := c.Param("id")
	uid := userID(c)
	if err := h.convSvc.Authorize(c.Request.Context(), convID, uid); err != nil {
		failService(c, err)
		return
	}
	// The upgrader answers failed handshakes itself.
	if err := h.ws.Serve(c.Writer, c.Request, convID, uid); err != nil {
		middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade failed")
	}
}
