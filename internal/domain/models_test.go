package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Conversation{}, &Participant{}, &Message{}, &TranslationCacheEntry{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Conversation{}).TableName():          "conversations",
		(Participant{}).TableName():           "conversation_participants",
		(Message{}).TableName():               "messages",
		(TranslationCacheEntry{}).TableName(): "translation_cache",
		(Idempotency{}).TableName():           "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	checks := []struct {
		model any
		index string
	}{
		{&Conversation{}, "idx_conv_updated"},
		{&Participant{}, "ux_participant_conv_user"},
		{&Participant{}, "idx_participant_user"},
		{&Message{}, "idx_conv_msgs"},
		{&TranslationCacheEntry{}, "ux_translation_message_lang"},
		{&Idempotency{}, "ux_user_conv_key"},
	}
	for _, c := range checks {
		if !m.HasIndex(c.model, c.index) {
			t.Fatalf("expected index %s on %T", c.index, c.model)
		}
	}
}

func TestUniqueConstraints(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	if err := db.Create(&Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if err := db.Create(&Participant{ID: "p1", ConversationID: "c1", UserID: "u1", JoinedAt: now}).Error; err != nil {
		t.Fatalf("insert participant: %v", err)
	}
	if err := db.Create(&Participant{ID: "p2", ConversationID: "c1", UserID: "u1", JoinedAt: now}).Error; err == nil {
		t.Fatal("expected duplicate (conversation, user) to be rejected")
	}

	if err := db.Create(&Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hi", CreatedAt: now}).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	tr := TranslationCacheEntry{ID: "t1", MessageID: "m1", TargetLang: "ko", SourceLang: "en", TranslatedText: "안녕", Provider: "mock"}
	if err := db.Create(&tr).Error; err != nil {
		t.Fatalf("insert translation: %v", err)
	}
	tr.ID = "t2"
	if err := db.Create(&tr).Error; err == nil {
		t.Fatal("expected duplicate (message, target_lang) to be rejected")
	}
}

func TestForeignKeys_RejectOrphans(t *testing.T) {
	db := newDomainDB(t)
	err := db.Create(&Message{ID: "m1", ConversationID: "missing", SenderID: "u1", Text: "x", CreatedAt: time.Now().UTC()}).Error
	if err == nil {
		t.Fatal("expected FK violation for message without conversation")
	}
}

func TestCascade_DeleteConversation(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(db.Create(&Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now}).Error)
	must(db.Create(&Participant{ID: "p1", ConversationID: "c1", UserID: "u1", JoinedAt: now}).Error)
	must(db.Create(&Participant{ID: "p2", ConversationID: "c1", UserID: "u2", JoinedAt: now}).Error)
	must(db.Create(&Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hello", CreatedAt: now}).Error)
	must(db.Create(&TranslationCacheEntry{ID: "t1", MessageID: "m1", TargetLang: "ko", SourceLang: "en", TranslatedText: "x", Provider: "mock"}).Error)

	if err := db.Delete(&Conversation{}, "id = ?", "c1").Error; err != nil {
		t.Fatalf("delete conversation: %v", err)
	}

	for _, model := range []any{&Participant{}, &Message{}, &TranslationCacheEntry{}} {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			t.Fatalf("count %T: %v", model, err)
		}
		if n != 0 {
			t.Fatalf("%T rows left after cascade: %d", model, n)
		}
	}
}
