package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func echoUserID() (http.Handler, *string) {
	var got string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &got
}

func TestRequireUser_Header(t *testing.T) {
	next, got := echoUserID()
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("X-User-Id", "alice")
	rec := httptest.NewRecorder()

	RequireUser(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", *got)
}

func TestRequireUser_QueryFallback(t *testing.T) {
	// WebSocket-клиенты не могут ставить заголовки при upgrade.
	next, got := echoUserID()
	req := httptest.NewRequest(http.MethodGet, "/ws?user_id=bob", nil)
	rec := httptest.NewRecorder()

	RequireUser(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", *got)
}

func TestRequireUser_Missing(t *testing.T) {
	next, _ := echoUserID()
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	rec := httptest.NewRecorder()

	RequireUser(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalOnly(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := InternalOnly(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.RemoteAddr = "10.0.0.5:4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "приватный IP пропускается")

	req = httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.RemoteAddr = "203.0.113.10:4321"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "публичный IP отклоняется")
}

func TestInternalOnly_Secret(t *testing.T) {
	t.Setenv("INTERNAL_API_SECRET", "s3cret")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := InternalOnly(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/users", nil)
	req.RemoteAddr = "203.0.113.10:4321"
	req.Header.Set("X-Internal-Secret", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.Header.Set("X-Internal-Secret", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:5555"
	assert.Equal(t, "192.168.1.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	assert.Equal(t, "203.0.113.1", clientIP(req))

	req.Header.Set("X-Real-Ip", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(req))
}
