// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
)

// CreateMessage inserts a new message row with a fresh ID and UTC timestamp.
func CreateMessage(ctx context.Context, db *gorm.DB, conversationID, senderID, text string, lang *string) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		DetectedLang:   lang,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit("Conversation").Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessagesBefore returns up to limit messages of a conversation, newest
// first. When before is non-nil only messages strictly older than it (by
// created_at, then id) are returned.
func ListMessagesBefore(ctx context.Context, db *gorm.DB, conversationID string, before *domain.Message, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID)
	if before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", before.CreatedAt, before.CreatedAt, before.ID)
	}
	q = q.Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// LatestMessage returns the newest message of a conversation or ErrNotFound.
func LatestMessage(ctx context.Context, db *gorm.DB, conversationID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// CountUnread counts messages from other senders newer than since. A nil
// since counts every message not sent by userID.
func CountUnread(ctx context.Context, db *gorm.DB, conversationID, userID string, since *time.Time) (int64, error) {
	var total int64
	q := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, userID)
	if since != nil {
		q = q.Where("created_at > ?", *since)
	}
	err := q.Count(&total).Error
	return total, err
}

// StampRead sets read_at on unread messages from other senders created at or
// before upTo. It returns the number of rows touched.
func StampRead(ctx context.Context, db *gorm.DB, conversationID, readerID string, upTo, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL AND created_at <= ?", conversationID, readerID, upTo).
		UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}
