package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
)

// GetTranslation returns the cache entry for (messageID, targetLang) or
// ErrNotFound.
func GetTranslation(ctx context.Context, db *gorm.DB, messageID, targetLang string) (*domain.TranslationCacheEntry, error) {
	var e domain.TranslationCacheEntry
	err := db.WithContext(ctx).
		Where("message_id = ? AND target_lang = ?", messageID, targetLang).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateTranslation inserts a cache entry. A concurrent insert for the same
// (message, target language) pair yields ErrDuplicate.
func CreateTranslation(ctx context.Context, db *gorm.DB, messageID, targetLang, sourceLang, text, provider string) (*domain.TranslationCacheEntry, error) {
	e := &domain.TranslationCacheEntry{
		ID:             uuid.NewString(),
		MessageID:      messageID,
		TargetLang:     targetLang,
		SourceLang:     sourceLang,
		TranslatedText: text,
		Provider:       provider,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit("Message").Create(e).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return e, nil
}

// CountTranslations returns how many cache entries exist for a message.
func CountTranslations(ctx context.Context, db *gorm.DB, messageID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.TranslationCacheEntry{}).
		Where("message_id = ?", messageID).
		Count(&n).Error
	return n, err
}
