package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/service"
)

func TestBearerCredential(t *testing.T) {
	newReq := func(header string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	id, token, ok := bearerCredential(newReq("Bearer sess-1.tok-abc"))
	require.True(t, ok)
	assert.Equal(t, "sess-1", id)
	assert.Equal(t, "tok-abc", token)

	// Only the first dot separates; tokens may not contain dots but the
	// parser must not choke if one does.
	id, token, ok = bearerCredential(newReq("Bearer a.b.c"))
	require.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Equal(t, "b.c", token)

	for _, header := range []string{
		"",
		"Bearer",
		"Bearer ",
		"Bearer nodot",
		"Bearer .token",
		"Bearer sess.",
		"Basic sess.token",
	} {
		_, _, ok := bearerCredential(newReq(header))
		assert.False(t, ok, "header %q", header)
	}
}

func TestAuthStatusMapping(t *testing.T) {
	h := &AuthHandler{}

	assert.Equal(t, http.StatusForbidden, h.getStatusCode(service.ErrBlocked))
	assert.Equal(t, http.StatusUnauthorized, h.getStatusCode(service.ErrInvalidCredentials))
	assert.Equal(t, http.StatusUnauthorized, h.getStatusCode(service.ErrInvalidCode))
	assert.Equal(t, http.StatusUnauthorized, h.getStatusCode(service.ErrInvalidToken))
	assert.Equal(t, http.StatusGone, h.getStatusCode(service.ErrChallengeExpired))
	assert.Equal(t, http.StatusTooManyRequests, h.getStatusCode(service.ErrTooManyAttempts))
	assert.Equal(t, http.StatusTooManyRequests, h.getStatusCode(service.ErrResendThrottled))
	assert.Equal(t, http.StatusInternalServerError, h.getStatusCode(assert.AnError))
}

func TestAdminStatusMapping(t *testing.T) {
	h := &AdminHandler{}

	assert.Equal(t, http.StatusForbidden, h.getStatusCode(service.ErrForbidden))
	assert.Equal(t, http.StatusBadRequest, h.getStatusCode(service.ErrInvalidTrustState))
	assert.Equal(t, http.StatusNotFound, h.getStatusCode(service.ErrDeviceNotFound))
	assert.Equal(t, http.StatusNotFound, h.getStatusCode(scylla.ErrBlacklistEntryNotFound))
	assert.Equal(t, http.StatusInternalServerError, h.getStatusCode(assert.AnError))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	r.RemoteAddr = "198.51.100.7:61234"
	assert.Equal(t, "198.51.100.7", clientIP(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientIP(r))

	// RealIP may leave a bare address with no port.
	r.RemoteAddr = "198.51.100.7"
	assert.Equal(t, "198.51.100.7", clientIP(r))
}

func TestRouterGenericResponses(t *testing.T) {
	router := NewRouter(NewAuthHandler(nil), NewAdminHandler(nil), &SessionMiddleware{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"collab-auth"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type staticHealth map[string]string

func (s staticHealth) HealthCheck() map[string]string { return s }

func TestRouterHealthDegrades(t *testing.T) {
	router := NewRouter(NewAuthHandler(nil), NewAdminHandler(nil), &SessionMiddleware{},
		staticHealth{"redis": "healthy", "scylla": "unhealthy"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	router = NewRouter(NewAuthHandler(nil), NewAdminHandler(nil), &SessionMiddleware{},
		staticHealth{"redis": "healthy", "kafka": "disabled"})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
