package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
	"github.com/tbourn/workfair-chat-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func mkConversation(t *testing.T, db *gorm.DB, users ...string) string {
	t.Helper()
	conv, _, err := repo.CreateConversation(context.Background(), db, users)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv.ID
}

// mkMessage inserts a message at a fixed time so ordering is deterministic.
func mkMessage(t *testing.T, db *gorm.DB, convID, sender, text string, at time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       sender,
		Text:           text,
		CreatedAt:      at.UTC(),
	}
	if err := db.Omit("Conversation").Create(m).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return m
}
