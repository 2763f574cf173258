package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"collab-auth/internal/models"
	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/session"
)

type contextKey string

const (
	sessionContextKey contextKey = "session"
	userContextKey    contextKey = "user"
)

// SessionMiddleware authenticates requests with a bearer credential of the
// form "<session_id>.<session_token>", the two values returned at login.
type SessionMiddleware struct {
	issuer *session.Issuer
	users  scylla.UserStore
}

func NewSessionMiddleware(issuer *session.Issuer, users scylla.UserStore) *SessionMiddleware {
	return &SessionMiddleware{issuer: issuer, users: users}
}

// Authenticate validates the bearer credential and loads the session and its
// user into the request context.
func (m *SessionMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, rawToken, ok := bearerCredential(r)
		if !ok {
			unauthorized(w)
			return
		}

		sess, err := m.issuer.ValidateSession(sessionID, rawToken)
		if err != nil {
			unauthorized(w)
			return
		}

		user, err := m.users.GetUserByID(sess.UserID)
		if err != nil {
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		ctx = context.WithValue(ctx, userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated principals without the admin role. It
// must sit behind Authenticate.
func (m *SessionMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !user.IsAdmin() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(Response{Success: false, Error: "admin privileges required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*models.Session)
	return sess, ok
}

func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

func bearerCredential(r *http.Request) (sessionID, rawToken string, ok bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}

	parts := strings.SplitN(strings.TrimPrefix(header, prefix), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(Response{Success: false, Error: "authentication required"})
}
