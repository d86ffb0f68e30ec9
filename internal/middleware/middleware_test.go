package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestRequireAdmin(t *testing.T) {
	issuer := NewTokenIssuer("secret")
	h := issuer.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(c.Email))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"Missing token"}`, rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"Invalid token"}`, rr.Body.String())

	tok, err := issuer.Sign("admin@example.com", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "admin@example.com", rr.Body.String())
}

func TestTokenExpiryAndSecret(t *testing.T) {
	issuer := NewTokenIssuer("secret")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }
	tok, err := issuer.Sign("a@example.com", 7*24*time.Hour)
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(6 * 24 * time.Hour) }
	_, err = issuer.Parse(tok)
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	_, err = issuer.Parse(tok)
	assert.Error(t, err)

	other := NewTokenIssuer("other")
	other.now = func() time.Time { return base }
	_, err = other.Parse(tok)
	assert.Error(t, err)
}

func TestRequireAdminRejectsOtherRoles(t *testing.T) {
	issuer := NewTokenIssuer("secret")
	claims := Claims{Role: "viewer", Email: "x@example.com", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	issuer.RequireAdmin(okHandler).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCORS(t *testing.T) {
	h := CORS("https://survey.example.com")(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/submit", nil)
	req.Header.Set("Origin", "https://survey.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://survey.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-Email")

	req = httptest.NewRequest(http.MethodGet, "/questions", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestNoStoreKeepsPrefixes(t *testing.T) {
	h := NoStore("/uploads/")(okHandler)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/questions", nil))
	assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/uploads/1-a.pdf", nil))
	assert.Empty(t, rr.Header().Get("Cache-Control"))
}

func TestSecureHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecureHeaders(true)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))

	rr = httptest.NewRecorder()
	SecureHeaders(false)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestLocale(t *testing.T) {
	var got string
	h := Locale(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/otp/send?lang=zh-CN", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "zh", got)
	assert.Equal(t, "zh", rr.Header().Get("Content-Language"))

	assert.Equal(t, "en", LocaleFromContext(context.Background()))
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := RequestLogger(zap.New(core), func(*http.Request) string { return "/route" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc", rr.Header().Get("X-Request-ID"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.EqualValues(t, http.StatusTeapot, entry.ContextMap()["status"])

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, rr.Header().Get("X-Request-ID"), 36)
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := RequestLogger(zap.New(core), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rr.Body.String())
	assert.Equal(t, 2, logs.Len())
}
