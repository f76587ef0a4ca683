package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/workfair-chat-backend/internal/domain"
)

// newTestDB opens a private in-memory database. With migrate=false the
// schema is left empty so error paths can be exercised.
func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedConversation(t *testing.T, db *gorm.DB, users ...string) *domain.Conversation {
	t.Helper()
	conv, _, err := CreateConversation(context.Background(), db, users)
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

func seedMessage(t *testing.T, db *gorm.DB, id, convID, sender, text string, at time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{ID: id, ConversationID: convID, SenderID: sender, Text: text, CreatedAt: at}
	if err := db.Omit("Conversation").Create(m).Error; err != nil {
		t.Fatalf("seed message %s: %v", id, err)
	}
	return m
}
