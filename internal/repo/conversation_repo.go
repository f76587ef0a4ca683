// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for conversations
// and their participant rows.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business rules, only persistence and query composition.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - Unique violations on participant membership surface as ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
)

// CreateConversation inserts a conversation and one participant row per
// user ID in a single transaction. Callers must pass distinct user IDs.
func CreateConversation(ctx context.Context, db *gorm.DB, userIDs []string) (*domain.Conversation, []domain.Participant, error) {
	now := time.Now().UTC()
	conv := &domain.Conversation{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	parts := make([]domain.Participant, 0, len(userIDs))
	for _, u := range userIDs {
		parts = append(parts, domain.Participant{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			UserID:         u,
			JoinedAt:       now,
		})
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		if len(parts) == 0 {
			return nil
		}
		if err := tx.Omit("Conversation").Create(&parts).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conv, parts, nil
}

// GetConversation fetches a conversation by ID.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversationsForUser returns the conversations userID participates
// in, most recently active first.
func ListConversationsForUser(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	q := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Joins("JOIN conversation_participants p ON p.conversation_id = conversations.id").
		Where("p.user_id = ?", userID).
		Order("conversations.updated_at DESC, conversations.id DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountConversationsForUser returns how many conversations userID is in.
func CountConversationsForUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// TouchConversation bumps updated_at. Missing conversations yield ErrNotFound.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation together with its participants,
// messages and cached translations. The children are deleted explicitly so
// the cascade does not depend on the driver enforcing foreign keys.
func DeleteConversation(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgIDs := tx.Model(&domain.Message{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Where("message_id IN (?)", msgIDs).Delete(&domain.TranslationCacheEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&domain.Participant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListParticipants returns the membership rows of a conversation ordered by
// join time.
func ListParticipants(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Participant, error) {
	var out []domain.Participant
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC, user_id ASC").
		Find(&out).Error
	return out, err
}

// GetParticipant fetches userID's membership in a conversation.
func GetParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (*domain.Participant, error) {
	var p domain.Participant
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AdvanceLastRead moves the participant's read marker to at. The update is
// conditional on the stored marker being older, so the marker only moves
// forward; the returned row reflects the stored state either way.
func AdvanceLastRead(ctx context.Context, db *gorm.DB, conversationID, userID string, at time.Time, messageID *string) (*domain.Participant, error) {
	updates := map[string]any{"last_read_at": at}
	if messageID != nil {
		updates["last_read_message_id"] = *messageID
	}
	err := db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Where("(last_read_at IS NULL OR last_read_at < ?)", at).
		Updates(updates).Error
	if err != nil {
		return nil, err
	}
	return GetParticipant(ctx, db, conversationID, userID)
}
