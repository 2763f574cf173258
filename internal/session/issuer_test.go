package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-auth/internal/config"
	"collab-auth/internal/hashing"
	"collab-auth/internal/models"
	"collab-auth/internal/repository/scylla"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*models.Session)}
}

func (s *memSessionStore) CreateSession(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.SessionID] = &copied
	return nil
}

func (s *memSessionStore) GetSession(sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		copied := *sess
		return &copied, nil
	}
	return nil, scylla.ErrSessionNotFound
}

func (s *memSessionStore) RevokeSession(sessionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.IsActive = false
		sess.RevokedReason = reason
	}
	return nil
}

func (s *memSessionStore) RevokeSessionsForDevice(deviceID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, sess := range s.sessions {
		if sess.DeviceID == deviceID && sess.IsActive {
			sess.IsActive = false
			sess.RevokedReason = reason
			count++
		}
	}
	return count, nil
}

func (s *memSessionStore) TouchSession(sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivity = at
	}
	return nil
}

type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RememberToken
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: make(map[string]*models.RememberToken)}
}

func (s *memTokenStore) CreateToken(token *models.RememberToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[token.TokenID] = &copied
	return nil
}

func (s *memTokenStore) GetToken(tokenID string) (*models.RememberToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[tokenID]; ok {
		copied := *tok
		return &copied, nil
	}
	return nil, scylla.ErrRememberTokenNotFound
}

func (s *memTokenStore) RevokeToken(tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[tokenID]; ok {
		tok.Revoked = true
	}
	return nil
}

func newTestIssuer(t *testing.T) (*Issuer, *memSessionStore, *memTokenStore) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Peppers = []string{"pepper"}
	cfg.Session.Lifetime = 24 * time.Hour
	cfg.Session.RememberLifetime = 30 * 24 * time.Hour

	sessions := newMemSessionStore()
	tokens := newMemTokenStore()
	issuer := NewIssuer(cfg, sessions, tokens, hashing.NewHasher(cfg))
	return issuer, sessions, tokens
}

func TestSessionLifecycle(t *testing.T) {
	issuer, _, _ := newTestIssuer(t)

	session, raw, err := issuer.CreateSession("user-1", "dev-1", "fp-hash")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.NotContains(t, session.TokenHash, raw)

	got, err := issuer.ValidateSession(session.SessionID, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	_, err = issuer.ValidateSession(session.SessionID, "wrong-token")
	assert.ErrorIs(t, err, ErrSessionInvalid)

	require.NoError(t, issuer.RevokeSession(session.SessionID, "logout"))
	_, err = issuer.ValidateSession(session.SessionID, raw)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	// Revoking again is a no-op, not an error.
	require.NoError(t, issuer.RevokeSession(session.SessionID, "logout"))
}

func TestExpiredSessionRejected(t *testing.T) {
	issuer, _, _ := newTestIssuer(t)

	session, raw, err := issuer.CreateSession("user-1", "dev-1", "fp-hash")
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err = issuer.ValidateSession(session.SessionID, raw)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestRememberTokenRoundTrip(t *testing.T) {
	issuer, _, tokens := newTestIssuer(t)

	raw, issued, err := issuer.IssueRememberToken("user-1", "dev-1")
	require.NoError(t, err)
	require.True(t, strings.Contains(raw, "."))

	// Storage never holds the raw verifier.
	stored, err := tokens.GetToken(issued.TokenID)
	require.NoError(t, err)
	verifier := strings.SplitN(raw, ".", 2)[1]
	assert.NotContains(t, stored.VerifierHash, verifier)

	redeemed, err := issuer.RedeemRememberToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", redeemed.UserID)
	assert.Equal(t, "dev-1", redeemed.DeviceID)
}

func TestRememberTokenRejectsTampering(t *testing.T) {
	issuer, _, _ := newTestIssuer(t)

	raw, _, err := issuer.IssueRememberToken("user-1", "dev-1")
	require.NoError(t, err)

	selector := strings.SplitN(raw, ".", 2)[0]

	_, err = issuer.RedeemRememberToken(selector + ".forged-verifier")
	assert.ErrorIs(t, err, ErrRememberInvalid)

	_, err = issuer.RedeemRememberToken("unknown-selector.whatever")
	assert.ErrorIs(t, err, ErrRememberInvalid)

	_, err = issuer.RedeemRememberToken("no-separator")
	assert.ErrorIs(t, err, ErrRememberInvalid)
}

func TestRevokedAndExpiredRememberTokens(t *testing.T) {
	issuer, _, _ := newTestIssuer(t)

	raw, issued, err := issuer.IssueRememberToken("user-1", "dev-1")
	require.NoError(t, err)

	require.NoError(t, issuer.RevokeRememberToken(issued.TokenID))
	_, err = issuer.RedeemRememberToken(raw)
	assert.ErrorIs(t, err, ErrRememberInvalid)

	// Idempotent revocation.
	require.NoError(t, issuer.RevokeRememberToken(issued.TokenID))

	raw2, _, err := issuer.IssueRememberToken("user-2", "dev-2")
	require.NoError(t, err)
	issuer.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = issuer.RedeemRememberToken(raw2)
	assert.ErrorIs(t, err, ErrRememberInvalid)
}
