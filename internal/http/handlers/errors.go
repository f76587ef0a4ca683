// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the `code` field
// of ErrorResponse. Clients branch on them; the message is for humans.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "forbidden",
//	  "message": "not a participant of this conversation"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/workfair-chat-backend/internal/http/middleware"
	"github.com/tbourn/workfair-chat-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeTranslationFailed = "translation_failed"
)

// failService maps service errors onto the HTTP taxonomy. Unknown errors
// become 500 and are logged by fail.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyText),
		errors.Is(err, services.ErrTextTooLong),
		errors.Is(err, services.ErrInvalidLanguage),
		errors.Is(err, services.ErrInvalidParticipants),
		errors.Is(err, services.ErrInvalidCursor):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrNotParticipant):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrTranslationFailed):
		// Upstream details stay in the logs.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("translation failed")
		fail(c, http.StatusBadGateway, ErrCodeTranslationFailed, services.ErrTranslationFailed.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
