package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/imagebulk/internal/app/services/auth"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

func newTestTokens(t *testing.T, expiry time.Duration) *auth.Tokens {
	t.Helper()
	tokens, err := auth.NewTokens("test-secret", expiry)
	require.NoError(t, err)
	return tokens
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	tokens := newTestTokens(t, time.Hour)
	token, err := tokens.Issue("acct-1", "a@b.c")
	require.NoError(t, err)

	handler := NewAuthMiddleware(tokens, logger.NewNop()).Handler(echoUser())
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acct-1", rec.Body.String())
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tokens := newTestTokens(t, time.Hour)
	other, err := auth.NewTokens("other-secret", time.Hour)
	require.NoError(t, err)
	foreign, err := other.Issue("acct-1", "a@b.c")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "UNAUTHORIZED"},
		{"wrong scheme", "Basic abc", "UNAUTHORIZED"},
		{"empty token", "Bearer ", "UNAUTHORIZED"},
		{"garbage", "Bearer not-a-jwt", "INVALID_TOKEN"},
		{"wrong secret", "Bearer " + foreign, "INVALID_TOKEN"},
	}

	handler := NewAuthMiddleware(tokens, logger.NewNop()).Handler(echoUser())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestCORS(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.example.com/"}).Handler(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/history", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/downloads/history", nil)
	req.Header.Set("Origin", "https://evil.app.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/downloads", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter("auth", 2, time.Hour, logger.NewNop())
	handler := rl.Handler(echoUser())

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001").Code)
	limited := send("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, limited))
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000").Code)
}

func TestRateLimiter_KeysByAccount(t *testing.T) {
	rl := NewRateLimiter("download", 1, time.Minute, logger.NewNop())
	handler := rl.Handler(echoUser())

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/downloads", nil)
		req = req.WithContext(logger.WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("acct-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("acct-1"))
	assert.Equal(t, http.StatusOK, send("acct-2"))
}

func TestRateLimiter_CleanupAndDisabled(t *testing.T) {
	rl := NewRateLimiter("api", 5, time.Minute, logger.NewNop())
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.getLimiter("a")
	now = now.Add(2 * time.Minute)
	rl.getLimiter("b")
	assert.Equal(t, 1, rl.Cleanup())

	off := NewRateLimiter("api", 0, time.Minute, logger.NewNop()).Handler(echoUser())
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		off.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestLimiterJanitor_DropsIdleClients(t *testing.T) {
	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())

	rl := NewRateLimiter("api", 5, time.Minute, logger.NewNop())
	rl.now = func() time.Time { return time.Unix(0, clock.Load()) }
	handler := rl.Handler(echoUser())
	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.Equal(t, 3, rl.Size())

	janitor := NewLimiterJanitor(10*time.Millisecond, rl, nil)
	require.NoError(t, janitor.Start(context.Background()))
	require.NoError(t, janitor.Start(context.Background()))
	defer janitor.Stop(context.Background())

	clock.Add(int64(2 * time.Minute))
	assert.Eventually(t, func() bool { return rl.Size() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, janitor.Stop(context.Background()))
	require.NoError(t, janitor.Stop(context.Background()))
}

func TestTracing_SetsTraceID(t *testing.T) {
	var seen string
	handler := NewTracingMiddleware(logger.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.TraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Trace-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "upstream-trace")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-trace", seen)
}

func TestRecover(t *testing.T) {
	handler := Recover(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "boom")
}
