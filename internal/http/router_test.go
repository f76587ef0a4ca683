package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/workfair-chat-backend/internal/config"
	"github.com/tbourn/workfair-chat-backend/internal/domain"
	"github.com/tbourn/workfair-chat-backend/internal/http/handlers"
	"github.com/tbourn/workfair-chat-backend/internal/realtime"
	"github.com/tbourn/workfair-chat-backend/internal/repo"
	"github.com/tbourn/workfair-chat-backend/internal/services"
	"github.com/tbourn/workfair-chat-backend/internal/translate"
)

func init() { gin.SetMode(gin.TestMode) }

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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

func testConfig() config.Config {
	return config.Config{
		APIBasePath:     "/api/v1",
		RateRPS:         1000,
		RateBurst:       1000,
		MaxMessageRunes: 2000,
		IdempotencyTTL:  time.Hour,
		OTEL:            config.OTELConfig{ServiceName: "test-svc"},
	}
}

type testEnv struct {
	db  *gorm.DB
	reg *realtime.Registry
	srv *httptest.Server
}

func newEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	db := newTestDB(t)
	reg := realtime.NewRegistry(time.Second)
	hub := realtime.NewHub(reg, nil)
	gw := realtime.NewGateway(hub, 16, time.Minute, 1<<16, func(*http.Request) bool { return true })

	r := gin.New()
	RegisterRoutes(r, cfg, Deps{
		DB:       db,
		Provider: translate.NewMock(nil),
		Detector: translate.WhatlangDetector{MinConfidence: 0.2},
		Hub:      hub,
		Gateway:  gw,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{db: db, reg: reg, srv: srv}
}

func (e *testEnv) call(t *testing.T, method, path, user string, body any, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func (e *testEnv) dial(t *testing.T, convID, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/ws/conversations/" + convID + "?user_id=" + user
	before := e.reg.Count(convID)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	waitFor(t, func() bool { return e.reg.Count(convID) > before })
	return ws
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func (e *testEnv) createConversation(t *testing.T, creator string, others ...string) string {
	t.Helper()
	resp, body := e.call(t, http.MethodPost, "/api/v1/conversations", creator,
		handlers.CreateConversationRequest{ParticipantIDs: others}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create conversation: %d %s", resp.StatusCode, body)
	}
	var view services.ConversationView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return view.ID
}

func TestRegisterRoutes_Health_Metrics_CORS_Fallbacks(t *testing.T) {
	env := newEnv(t, testConfig())

	resp, _ := env.call(t, http.MethodGet, "/health", "", nil, map[string]string{"Origin": "http://example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO=%q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing standard headers: %v", resp.Header)
	}

	resp, body := env.call(t, http.MethodGet, "/metrics", "", nil, nil)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("ws_connections_active")) {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}

	resp, body = env.call(t, http.MethodGet, "/nope", "", nil, nil)
	if resp.StatusCode != http.StatusNotFound || !bytes.Contains(body, []byte(`"code":"not_found"`)) {
		t.Fatalf("no route: %d %s", resp.StatusCode, body)
	}
	resp, body = env.call(t, http.MethodPut, "/api/v1/conversations", "user-1", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed || !bytes.Contains(body, []byte("method_not_allowed")) {
		t.Fatalf("no method: %d %s", resp.StatusCode, body)
	}

	resp, _ = env.call(t, http.MethodGet, "/api/v1/conversations", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", resp.StatusCode)
	}
}

func TestConversationLifecycle(t *testing.T) {
	env := newEnv(t, testConfig())
	conv := env.createConversation(t, "user-1", "user-2")

	resp, body := env.call(t, http.MethodPost, "/api/v1/conversations", "user-1",
		handlers.CreateConversationRequest{ParticipantIDs: []string{"user-1"}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("solo conversation: %d %s", resp.StatusCode, body)
	}

	resp, body = env.call(t, http.MethodGet, "/api/v1/conversations", "user-2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	var list handlers.ListConversationsResponse
	_ = json.Unmarshal(body, &list)
	if list.Pagination.Total != 1 || list.Conversations[0].ID != conv {
		t.Fatalf("list: %s", body)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	resp, _ = env.call(t, http.MethodGet, "/api/v1/conversations", "user-2", nil, map[string]string{"If-None-Match": etag})
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional list: %d", resp.StatusCode)
	}

	resp, _ = env.call(t, http.MethodGet, "/api/v1/conversations/"+conv, "user-9", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider get: %d", resp.StatusCode)
	}
	resp, _ = env.call(t, http.MethodDelete, "/api/v1/conversations/"+conv, "user-1", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = env.call(t, http.MethodGet, "/api/v1/conversations/"+conv, "user-1", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: %d", resp.StatusCode)
	}
}

func TestSendMessage_PersistsThenBroadcasts(t *testing.T) {
	env := newEnv(t, testConfig())
	conv := env.createConversation(t, "user-1", "user-2")
	ws := env.dial(t, conv, "user-2")

	resp, body := env.call(t, http.MethodPost, "/api/v1/conversations/"+conv+"/messages", "user-1",
		handlers.SendMessageRequest{Text: "Salom! Men bu ishga juda qiziqaman."}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: %d %s", resp.StatusCode, body)
	}
	var sent domain.Message
	_ = json.Unmarshal(body, &sent)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev handlers.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != handlers.EventMessageCreated || ev.Message == nil || ev.Message.ID != sent.ID {
		t.Fatalf("event: %s", frame)
	}

	resp, body = env.call(t, http.MethodPost, "/api/v1/conversations/"+conv+"/messages", "user-1",
		handlers.SendMessageRequest{Text: "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty send: %d %s", resp.StatusCode, body)
	}
	if n, _ := repo.CountMessages(context.Background(), env.db, conv); n != 1 {
		t.Fatalf("messages stored = %d", n)
	}
}

func TestSendMessage_IdempotentReplay(t *testing.T) {
	env := newEnv(t, testConfig())
	conv := env.createConversation(t, "user-1", "user-2")
	hdr := map[string]string{"Idempotency-Key": "send-1"}
	path := "/api/v1/conversations/" + conv + "/messages"

	resp, body := env.call(t, http.MethodPost, path, "user-1", handlers.SendMessageRequest{Text: "hello"}, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first: %d %s", resp.StatusCode, body)
	}
	var first domain.Message
	_ = json.Unmarshal(body, &first)

	resp, body = env.call(t, http.MethodPost, path, "user-1", handlers.SendMessageRequest{Text: "hello"}, hdr)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d %v", resp.StatusCode, resp.Header)
	}
	var second domain.Message
	_ = json.Unmarshal(body, &second)
	if second.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", second.ID, first.ID)
	}
	if n, _ := repo.CountMessages(context.Background(), env.db, conv); n != 1 {
		t.Fatalf("messages stored = %d", n)
	}

	resp, _ = env.call(t, http.MethodPost, path, "user-1", handlers.SendMessageRequest{Text: "x"}, map[string]string{"Idempotency-Key": "bad key"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad key: %d", resp.StatusCode)
	}
}

func TestListMessages_CursorAndETag(t *testing.T) {
	env := newEnv(t, testConfig())
	conv := env.createConversation(t, "user-1", "user-2")
	path := "/api/v1/conversations/" + conv + "/messages"
	for i := 0; i < 3; i++ {
		resp, body := env.call(t, http.MethodPost, path, "user-1", handlers.SendMessageRequest{Text: fmt.Sprintf("m%d", i)}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("send %d: %d %s", i, resp.StatusCode, body)
		}
		time.Sleep(2 * time.Millisecond)
	}

	resp, body := env.call(t, http.MethodGet, path+"?limit=2", "user-2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("page 1: %d %s", resp.StatusCode, body)
	}
	var p1 services.MessagePage
	_ = json.Unmarshal(body, &p1)
	if !p1.HasMore || len(p1.Items) != 2 || p1.Items[0].Text != "m1" || p1.Items[1].Text != "m2" {
		t.Fatalf("page 1: %s", body)
	}
	etag := resp.Header.Get("ETag")
	resp, _ = env.call(t, http.MethodGet, path+"?limit=2", "user-2", nil, map[string]string{"If-None-Match": etag})
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional: %d", resp.StatusCode)
	}

	resp, body = env.call(t, http.MethodGet, path+"?limit=2&cursor="+p1.NextCursor, "user-2", nil, nil)
	var p2 services.MessagePage
	_ = json.Unmarshal(body, &p2)
	if resp.StatusCode != http.StatusOK || p2.HasMore || len(p2.Items) != 1 || p2.Items[0].Text != "m0" {
		t.Fatalf("page 2: %d %s", resp.StatusCode, body)
	}

	resp, _ = env.call(t, http.MethodGet, path+"?cursor=bogus", "user-2", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus cursor: %d", resp.StatusCode)
	}
	resp, _ = env.call(t, http.MethodGet, path, "user-3", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider: %d", resp.StatusCode)
	}

	// Marking read changes read stamps, which invalidates the first-page ETag.
	resp, body = env.call(t, http.MethodPost, "/api/v1/conversations/"+conv+"/read", "user-2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: %d %s", resp.StatusCode, body)
	}
	resp, _ = env.call(t, http.MethodGet, path+"?limit=2", "user-2", nil, map[string]string{"If-None-Match": etag})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stale etag accepted: %d", resp.StatusCode)
	}

	missing := "nope"
	resp, _ = env.call(t, http.MethodPost, "/api/v1/conversations/"+conv+"/read", "user-2", handlers.MarkReadRequest{LastReadMessageID: &missing}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown marker: %d", resp.StatusCode)
	}
}

func TestTranslateMessage_Endpoint(t *testing.T) {
	env := newEnv(t, testConfig())
	conv := env.createConversation(t, "user-1", "user-2")
	resp, body := env.call(t, http.MethodPost, "/api/v1/conversations/"+conv+"/messages", "user-2",
		handlers.SendMessageRequest{Text: "Hello"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: %d %s", resp.StatusCode, body)
	}
	var m domain.Message
	_ = json.Unmarshal(body, &m)
	path := "/api/v1/messages/" + m.ID + "/translate"

	req := handlers.TranslateRequest{TargetLang: "ko", SourceLang: "en"}
	resp, body = env.call(t, http.MethodPost, path, "user-1", req, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("translate: %d %s", resp.StatusCode, body)
	}
	var tr services.Translation
	_ = json.Unmarshal(body, &tr)
	if tr.Cached || tr.TranslatedText != "[번역됨: en→ko] Hello" || tr.Provider != "mock" {
		t.Fatalf("first translation: %s", body)
	}

	resp, body = env.call(t, http.MethodPost, path, "user-1", req, nil)
	_ = json.Unmarshal(body, &tr)
	if resp.StatusCode != http.StatusOK || !tr.Cached {
		t.Fatalf("second translation: %d %s", resp.StatusCode, body)
	}

	cases := []struct {
		name string
		user string
		path string
		body any
		code int
	}{
		{"missing target", "user-1", path, map[string]string{}, http.StatusBadRequest},
		{"invalid target", "user-1", path, handlers.TranslateRequest{TargetLang: "??"}, http.StatusBadRequest},
		{"outsider", "user-3", path, req, http.StatusForbidden},
		{"missing message", "user-1", "/api/v1/messages/none/translate", req, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := env.call(t, http.MethodPost, tc.path, tc.user, tc.body, nil)
			if resp.StatusCode != tc.code {
				t.Fatalf("code=%d want %d body=%s", resp.StatusCode, tc.code, body)
			}
		})
	}
}

// Frames sent over the socket are relayed to the other participants only
// and never written to message history.
func TestGatewayFrames_RelayedNotPersisted(t *testing.T) {
	env := newEnv(t, testConfig())
	conv := env.createConversation(t, "user-1", "user-2")
	a := env.dial(t, conv, "user-1")
	b := env.dial(t, conv, "user-2")

	frame := []byte(`{"type":"typing","user":"user-1"}`)
	if err := a.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := b.ReadMessage()
	if err != nil || !bytes.Equal(got, frame) {
		t.Fatalf("relay: %q %v", got, err)
	}

	// The sender gets nothing back.
	_ = a.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := a.ReadMessage(); err == nil {
		t.Fatal("sender received its own frame")
	}

	if n, _ := repo.CountMessages(context.Background(), env.db, conv); n != 0 {
		t.Fatalf("gateway frame persisted: %d rows", n)
	}
}

func TestWebsocket_RejectsOutsidersBeforeUpgrade(t *testing.T) {
	env := newEnv(t, testConfig())
	conv := env.createConversation(t, "user-1", "user-2")

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/ws/conversations/" + conv + "?user_id=user-9"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("outsider upgraded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403, got %v", resp)
	}
	if env.reg.Count(conv) != 0 {
		t.Fatal("registry changed on rejected upgrade")
	}
}

func TestTokenIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "test-secret"
	env := newEnv(t, cfg)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	resp, _ := env.call(t, http.MethodGet, "/api/v1/conversations", "user-1", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("header identity accepted in token mode: %d", resp.StatusCode)
	}
	resp, body := env.call(t, http.MethodGet, "/api/v1/conversations", "", nil, map[string]string{"Authorization": "Bearer " + signed})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer: %d %s", resp.StatusCode, body)
	}
}
