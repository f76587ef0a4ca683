package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, secret, sub string, exp time.Time, method jwt.SigningMethod) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func identityRouter(opts IdentityOptions) *gin.Engine {
	r := gin.New()
	r.Use(Identity(opts))
	r.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	return r
}

func TestIdentity_HeaderMode(t *testing.T) {
	r := identityRouter(IdentityOptions{})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderUserID, " user-1 ")
	if w := do(t, r, req); w.Code != http.StatusOK || w.Body.String() != "user-1" {
		t.Fatalf("header: %d %q", w.Code, w.Body.String())
	}

	if w := do(t, r, httptest.NewRequest(http.MethodGet, "/whoami", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: %d", w.Code)
	}

	// The query fallback is reserved for websocket upgrades.
	if w := do(t, r, httptest.NewRequest(http.MethodGet, "/whoami?user_id=user-2", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("plain query: %d", w.Code)
	}
	up := httptest.NewRequest(http.MethodGet, "/whoami?user_id=user-2", nil)
	up.Header.Set("Connection", "Upgrade")
	up.Header.Set("Upgrade", "websocket")
	if w := do(t, r, up); w.Code != http.StatusOK || w.Body.String() != "user-2" {
		t.Fatalf("upgrade query: %d %q", w.Code, w.Body.String())
	}
}

func TestIdentity_TokenMode(t *testing.T) {
	const secret = "s3cret"
	r := identityRouter(IdentityOptions{Secret: secret})

	cases := []struct {
		name   string
		header string
		query  string
		ws     bool
		code   int
		body   string
	}{
		{"valid bearer", "Bearer " + signed(t, secret, "user-1", time.Now().Add(time.Hour), jwt.SigningMethodHS256), "", false, 200, "user-1"},
		{"expired", "Bearer " + signed(t, secret, "user-1", time.Now().Add(-time.Hour), jwt.SigningMethodHS256), "", false, 401, ""},
		{"wrong secret", "Bearer " + signed(t, "other", "user-1", time.Now().Add(time.Hour), jwt.SigningMethodHS256), "", false, 401, ""},
		{"wrong alg", "Bearer " + signed(t, secret, "user-1", time.Now().Add(time.Hour), jwt.SigningMethodHS512), "", false, 401, ""},
		{"no subject", "Bearer " + signed(t, secret, "", time.Now().Add(time.Hour), jwt.SigningMethodHS256), "", false, 401, ""},
		{"header ignored", "", "", false, 401, ""},
		{"ws query token", "", signed(t, secret, "user-3", time.Now().Add(time.Hour), jwt.SigningMethodHS256), true, 200, "user-3"},
		{"query token without upgrade", "", signed(t, secret, "user-3", time.Now().Add(time.Hour), jwt.SigningMethodHS256), false, 401, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/whoami"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			req.Header.Set(HeaderUserID, "spoofed")
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.ws {
				req.Header.Set("Connection", "Upgrade")
				req.Header.Set("Upgrade", "websocket")
			}
			w := do(t, r, req)
			if w.Code != tc.code {
				t.Fatalf("code=%d want %d body=%s", w.Code, tc.code, w.Body.String())
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("body=%q want %q", w.Body.String(), tc.body)
			}
		})
	}
}
