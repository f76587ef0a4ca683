package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/workfair-chat-backend/internal/services"
)

// TranslateRequest asks for a message in another language. Text, when
// given, replaces the stored body as the provider input.
type TranslateRequest struct {
	TargetLang string  `json:"target_lang" binding:"required" example:"ko"`
	SourceLang string  `json:"source_lang,omitempty" example:"uz"`
	Text       *string `json:"text,omitempty"`
}

// TranslateMessage godoc
// @ID          translateMessage
// @Summary     Translate a message
// @Description Returns the cached translation for (message, target_lang) or translates and caches it. An overriding text is translated but not cached.
// @Tags        Translation
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       X-User-ID  header  string  false  "Caller id when token auth is disabled"
// @Param       id         path    string  true   "Message ID"
// @Param       body       body    handlers.TranslateRequest  true  "Target language"
// @Success     200  {object}  services.Translation
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid language or empty text"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Translation provider failed"
// @Router      /messages/{id}/translate [post]
func (h *Handlers) TranslateMessage(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "target_lang required")
		return
	}
	res, err := h.trSvc.TranslateMessage(c.Request.Context(), services.TranslateInput{
		MessageID:  c.Param("id"),
		UserID:     userID(c),
		TargetLang: req.TargetLang,
		SourceLang: req.SourceLang,
		Text:       req.Text,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
