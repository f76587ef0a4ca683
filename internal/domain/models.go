// Package domain defines the persistence models for conversations, their
// participants, messages and cached translations. These types are mapped
// with GORM and form the core data layer of the messaging backend.
package domain

import "time"

// Conversation is a thread of messages among a fixed set of participants.
// UpdatedAt is bumped whenever a message is appended.
type Conversation struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index:idx_conv_updated"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Participant is a user's membership in a conversation. A user appears at
// most once per conversation (unique index) and the row is cascade-deleted
// with its conversation.
//
// Fields:
//   - LastReadAt: moves forward only; nil until the first markRead.
//   - LastReadMessageID: the marker the caller last claimed, if any.
type Participant struct {
	ID                string     `json:"id"                             gorm:"type:varchar(64);primaryKey"`
	ConversationID    string     `json:"conversation_id"                gorm:"type:varchar(64);not null;uniqueIndex:ux_participant_conv_user,priority:1"`
	UserID            string     `json:"user_id"                        gorm:"type:varchar(64);not null;uniqueIndex:ux_participant_conv_user,priority:2;index:idx_participant_user"`
	LastReadAt        *time.Time `json:"last_read_at,omitempty"`
	LastReadMessageID *string    `json:"last_read_message_id,omitempty" gorm:"type:varchar(64)"`
	JoinedAt          time.Time  `json:"joined_at"                      gorm:"not null"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Participant.
func (Participant) TableName() string { return "conversation_participants" }

// Message is a single text sent by a participant. It is immutable after
// creation except for ReadAt.
//
// Fields:
//   - DetectedLang: best-effort source language tag; nil when detection failed.
//   - ReadAt: set when a recipient marks the conversation read past it.
type Message struct {
	ID             string     `json:"id"                      gorm:"type:varchar(64);primaryKey"`
	ConversationID string     `json:"conversation_id"         gorm:"type:varchar(64);not null;index:idx_conv_msgs,priority:1"`
	SenderID       string     `json:"sender_id"               gorm:"type:varchar(64);not null"`
	Text           string     `json:"text"                    gorm:"type:text;not null"`
	DetectedLang   *string    `json:"detected_lang,omitempty" gorm:"type:varchar(16)"`
	CreatedAt      time.Time  `json:"created_at"              gorm:"index:idx_conv_msgs,priority:2"`
	ReadAt         *time.Time `json:"read_at,omitempty"`

	// Conversation is the owning thread; messages go with it on delete.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// TranslationCacheEntry stores one computed translation of a message into a
// target language. At most one entry exists per (message, target language).
type TranslationCacheEntry struct {
	ID             string    `json:"id"              gorm:"type:varchar(64);primaryKey"`
	MessageID      string    `json:"message_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_translation_message_lang,priority:1"`
	TargetLang     string    `json:"target_lang"     gorm:"type:varchar(16);not null;uniqueIndex:ux_translation_message_lang,priority:2"`
	SourceLang     string    `json:"source_lang"     gorm:"type:varchar(16);not null"`
	TranslatedText string    `json:"translated_text" gorm:"type:text;not null"`
	Provider       string    `json:"provider"        gorm:"type:varchar(50);not null"`
	CreatedAt      time.Time `json:"created_at"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TranslationCacheEntry.
func (TranslationCacheEntry) TableName() string { return "translation_cache" }
