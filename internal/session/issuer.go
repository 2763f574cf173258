package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"collab-auth/internal/config"
	"collab-auth/internal/hashing"
	"collab-auth/internal/models"
	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/util"
)

var (
	ErrSessionInvalid  = errors.New("session invalid or expired")
	ErrRememberInvalid = errors.New("remember token invalid")
)

// Issuer mints opaque sessions and selector.verifier remember tokens. Both
// raw values leave this package exactly once, at issuance; storage only ever
// sees hashes.
type Issuer struct {
	sessions         scylla.SessionStore
	tokens           scylla.RememberTokenStore
	hasher           *hashing.Hasher
	lifetime         time.Duration
	rememberLifetime time.Duration
	now              func() time.Time
}

func NewIssuer(cfg *config.Config, sessions scylla.SessionStore, tokens scylla.RememberTokenStore, hasher *hashing.Hasher) *Issuer {
	return &Issuer{
		sessions:         sessions,
		tokens:           tokens,
		hasher:           hasher,
		lifetime:         cfg.Session.Lifetime,
		rememberLifetime: cfg.Session.RememberLifetime,
		now:              time.Now,
	}
}

// CreateSession persists a new session and returns it with the raw bearer
// token. The token is high-entropy, so a plain salted-less SHA-256 digest is
// stored for lookup comparison.
func (i *Issuer) CreateSession(userID, deviceID, fingerprintHash string) (*models.Session, string, error) {
	raw, err := randomToken(32)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := i.now().UTC()
	session := &models.Session{
		SessionID:       uuid.New().String(),
		UserID:          userID,
		DeviceID:        deviceID,
		FingerprintHash: fingerprintHash,
		TokenHash:       digest(raw),
		IsActive:        true,
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(i.lifetime),
	}

	if err := i.sessions.CreateSession(session); err != nil {
		return nil, "", err
	}

	return session, raw, nil
}

// ValidateSession loads and checks a session by ID and bearer token.
func (i *Issuer) ValidateSession(sessionID, rawToken string) (*models.Session, error) {
	session, err := i.sessions.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, scylla.ErrSessionNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}

	if !session.IsActive || session.IsExpired(i.now().UTC()) {
		return nil, ErrSessionInvalid
	}

	if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(digest(rawToken))) != 1 {
		return nil, ErrSessionInvalid
	}

	return session, nil
}

// RevokeSession is idempotent.
func (i *Issuer) RevokeSession(sessionID, reason string) error {
	return i.sessions.RevokeSession(sessionID, reason)
}

// IssueRememberToken returns the raw credential in selector.verifier form.
// The verifier is salted and peppered before storage; a database leak alone
// cannot forge a usable token.
func (i *Issuer) IssueRememberToken(userID, deviceID string) (string, *models.RememberToken, error) {
	selector, err := randomToken(12)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate selector: %w", err)
	}
	verifier, err := randomToken(32)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate verifier: %w", err)
	}

	hashResult, err := i.hasher.HashRememberVerifier(verifier)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash verifier: %w", err)
	}

	now := i.now().UTC()
	token := &models.RememberToken{
		TokenID:       selector,
		UserID:        userID,
		DeviceID:      deviceID,
		VerifierHash:  hashResult.Hash,
		VerifierSalt:  hashResult.Salt,
		PepperVersion: hashResult.PepperVersion,
		CreatedAt:     now,
		ExpiresAt:     now.Add(i.rememberLifetime),
	}

	if err := i.tokens.CreateToken(token); err != nil {
		return "", nil, err
	}

	util.Info("Remember token issued",
		util.String("user_id", userID),
		util.String("device_id", deviceID))

	return selector + "." + verifier, token, nil
}

// RedeemRememberToken resolves and verifies a raw selector.verifier value.
// Any failure collapses to ErrRememberInvalid so callers leak nothing about
// which half was wrong.
func (i *Issuer) RedeemRememberToken(raw string) (*models.RememberToken, error) {
	selector, verifier, ok := splitToken(raw)
	if !ok {
		return nil, ErrRememberInvalid
	}

	token, err := i.tokens.GetToken(selector)
	if err != nil {
		if errors.Is(err, scylla.ErrRememberTokenNotFound) {
			return nil, ErrRememberInvalid
		}
		return nil, err
	}

	if !token.IsUsable(i.now().UTC()) {
		return nil, ErrRememberInvalid
	}

	match, err := i.hasher.VerifyRememberVerifier(verifier, &hashing.HashResult{
		Hash:          token.VerifierHash,
		Salt:          token.VerifierSalt,
		PepperVersion: token.PepperVersion,
		Algorithm:     "argon2id-v1",
	})
	if err != nil {
		return nil, fmt.Errorf("verifier check failed: %w", err)
	}
	if !match {
		return nil, ErrRememberInvalid
	}

	return token, nil
}

// RevokeRememberToken is idempotent.
func (i *Issuer) RevokeRememberToken(tokenID string) error {
	return i.tokens.RevokeToken(tokenID)
}

func randomToken(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func splitToken(raw string) (selector, verifier string, ok bool) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
