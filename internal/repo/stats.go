// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
)

// ConversationsStats returns how many conversations userID participates in
// and the greatest UpdatedAt among them (nil when there are none).
func ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Joins("JOIN conversation_participants p ON p.conversation_id = conversations.id").
		Where("p.user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() -> TEXT in SQLite.
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("conversations.updated_at").Order("conversations.updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the message count of a conversation, the newest
// CreatedAt and the newest ReadAt. Read stamps are the only mutation a
// message receives, so together they change whenever a page could.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxCreatedAt, maxReadAt *time.Time, err error) {
	base := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	}

	if err = base().Count(&count).Error; err != nil {
		return 0, nil, nil, err
	}
	if count == 0 {
		return 0, nil, nil, nil
	}

	var created struct{ CreatedAt time.Time }
	if err = base().Select("created_at").Order("created_at DESC").Limit(1).Scan(&created).Error; err != nil {
		return 0, nil, nil, err
	}
	var read struct{ ReadAt *time.Time }
	if err = base().Select("read_at").Where("read_at IS NOT NULL").Order("read_at DESC").Limit(1).Scan(&read).Error; err != nil {
		return 0, nil, nil, err
	}
	return count, &created.CreatedAt, read.ReadAt, nil
}

// UnreadTotal counts messages from others that userID has not read across
// all of their conversations. Inbox ETags include it because marking read
// changes unread counts without touching conversations.updated_at.
func UnreadTotal(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM messages m
			JOIN conversation_participants p ON p.conversation_id = m.conversation_id
			WHERE p.user_id = ? AND m.sender_id <> ?
			AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)`, userID, userID).
		Scan(&n).Error
	return n, err
}
