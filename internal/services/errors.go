// Package services defines the business logic for conversations, messages
// and translations. This file centralizes service-level error values so
// they can be returned consistently and mapped to HTTP results by handlers.
package services

import "errors"

// Validation errors. No state is mutated when one of these is returned.
var (
	// ErrEmptyText is returned when a message or translation text is empty.
	ErrEmptyText = errors.New("text is empty")

	// ErrTextTooLong is returned when text exceeds the configured rune limit.
	ErrTextTooLong = errors.New("text too long")

	// ErrInvalidLanguage is returned for a malformed or unrecognized
	// language tag.
	ErrInvalidLanguage = errors.New("invalid language tag")

	// ErrInvalidParticipants is returned when a conversation would have
	// fewer than two distinct participants.
	ErrInvalidParticipants = errors.New("a conversation needs at least two distinct participants")

	// ErrInvalidCursor is returned when a pagination cursor does not name a
	// message of the conversation being listed.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Lookup and access errors.
var (
	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotParticipant is returned when the caller is not a member of the
	// conversation they are acting on.
	ErrNotParticipant = errors.New("not a participant of this conversation")
)

// ErrTranslationFailed wraps provider failures. The underlying
// *translate.ProviderError stays reachable through errors.As.
var ErrTranslationFailed = errors.New("translation failed")
