// Package docs registers the OpenAPI document served under /swagger.
// Regenerate with: swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/conversations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "List conversations",
                "operationId": "listConversations",
                "parameters": [
                    {"type": "integer", "description": "Page number", "name": "page", "in": "query"},
                    {"type": "integer", "description": "Page size", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListConversationsResponse"}},
                    "304": {"description": "Not Modified"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "Start a conversation",
                "operationId": "createConversation",
                "parameters": [
                    {"description": "Participants", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateConversationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/services.ConversationView"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/conversations/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Conversations"],
                "summary": "Get a conversation",
                "operationId": "getConversation",
                "parameters": [{"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ConversationView"}},
                    "403": {"description": "Not a participant", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["Conversations"],
                "summary": "Delete a conversation",
                "operationId": "deleteConversation",
                "parameters": [{"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Not a participant", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/conversations/{id}/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "List messages",
                "operationId": "listMessages",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Message ID to page before", "name": "cursor", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 50, "description": "Page size", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.MessagePage"}},
                    "304": {"description": "Not Modified"},
                    "400": {"description": "Invalid cursor", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Send a message",
                "operationId": "sendMessage",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Retry key scoped to caller and conversation", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Message", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "Idempotent replay", "schema": {"$ref": "#/definitions/domain.Message"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Message"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/conversations/{id}/read": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Mark messages read",
                "operationId": "markRead",
                "parameters": [
                    {"type": "string", "description": "Conversation ID", "name": "id", "in": "path", "required": true},
                    {"description": "Read marker", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/handlers.MarkReadRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Participant"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/messages/{id}/translate": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Translation"],
                "summary": "Translate a message",
                "operationId": "translateMessage",
                "parameters": [
                    {"type": "string", "description": "Message ID", "name": "id", "in": "path", "required": true},
                    {"description": "Target language", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.TranslateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Translation"}},
                    "400": {"description": "Invalid language or empty text", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Translation provider failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "conversation_id": {"type": "string"},
                "sender_id": {"type": "string"},
                "text": {"type": "string"},
                "detected_lang": {"type": "string"},
                "created_at": {"type": "string"},
                "read_at": {"type": "string"}
            }
        },
        "domain.Participant": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "conversation_id": {"type": "string"},
                "user_id": {"type": "string"},
                "last_read_message_id": {"type": "string"},
                "last_read_at": {"type": "string"},
                "joined_at": {"type": "string"}
            }
        },
        "handlers.CreateConversationRequest": {
            "type": "object",
            "required": ["participant_ids"],
            "properties": {"participant_ids": {"type": "array", "items": {"type": "string"}, "example": ["user-2"]}}
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "bad_request"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "handlers.ListConversationsResponse": {
            "type": "object",
            "properties": {
                "conversations": {"type": "array", "items": {"$ref": "#/definitions/services.ConversationSummary"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.MarkReadRequest": {
            "type": "object",
            "properties": {"last_read_message_id": {"type": "string"}}
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.SendMessageRequest": {
            "type": "object",
            "properties": {"text": {"type": "string"}}
        },
        "handlers.TranslateRequest": {
            "type": "object",
            "required": ["target_lang"],
            "properties": {
                "target_lang": {"type": "string", "example": "ko"},
                "source_lang": {"type": "string", "example": "uz"},
                "text": {"type": "string"}
            }
        },
        "services.ConversationSummary": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "participant_ids": {"type": "array", "items": {"type": "string"}},
                "last_message": {"$ref": "#/definitions/domain.Message"},
                "unread_count": {"type": "integer"}
            }
        },
        "services.ConversationView": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "participants": {"type": "array", "items": {"$ref": "#/definitions/domain.Participant"}}
            }
        },
        "services.MessagePage": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}},
                "next_cursor": {"type": "string"},
                "has_more": {"type": "boolean"}
            }
        },
        "services.Translation": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "message_id": {"type": "string"},
                "target_lang": {"type": "string"},
                "source_lang": {"type": "string"},
                "translated_text": {"type": "string"},
                "provider": {"type": "string"},
                "created_at": {"type": "string"},
                "cached": {"type": "boolean"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Workfair Chat API",
	Description:      "Conversations, messages, read receipts and on-demand translation between job seekers and employers.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
