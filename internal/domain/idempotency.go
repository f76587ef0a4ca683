package domain

import "time"

// Idempotency records the message produced by a send request, keyed by
// (user_id, conversation_id, key). A retried POST with the same key gets the
// original message back instead of appending a duplicate.
type Idempotency struct {
	ID             string    `gorm:"type:varchar(64);primaryKey"`
	UserID         string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_conv_key,priority:1"`
	ConversationID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_conv_key,priority:2"`
	Key            string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_conv_key,priority:3"`
	MessageID      string    `gorm:"type:varchar(64);not null"`
	Status         int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
