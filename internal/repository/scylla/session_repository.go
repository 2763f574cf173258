package scylla

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"collab-auth/internal/models"
	"collab-auth/internal/util"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists opaque server-side sessions. Sessions are revocable
// records, not bearer-decoded tokens; revocation takes effect on next lookup.
type SessionStore interface {
	CreateSession(session *models.Session) error
	GetSession(sessionID string) (*models.Session, error)
	RevokeSession(sessionID, reason string) error
	RevokeSessionsForDevice(deviceID, reason string) (int, error)
	TouchSession(sessionID string, at time.Time) error
}

type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) CreateSession(session *models.Session) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.CreateSession.Statement(),
		session.SessionID, session.UserID, session.DeviceID, session.FingerprintHash,
		session.TokenHash, session.IsActive, session.CreatedAt, session.LastActivity,
		session.ExpiresAt, session.RevokedReason)

	batch.Query(r.client.Prepared.CreateSessionByDevice.Statement(),
		session.DeviceID, session.SessionID, session.UserID, session.CreatedAt)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	util.Info("Session created",
		util.String("session_id", session.SessionID),
		util.String("device_id", session.DeviceID))
	return nil
}

func (r *SessionRepository) GetSession(sessionID string) (*models.Session, error) {
	session := &models.Session{}

	query := r.client.Prepared.GetSession.Bind(sessionID)
	err := r.client.ScanWithRetry(query,
		&session.SessionID, &session.UserID, &session.DeviceID, &session.FingerprintHash,
		&session.TokenHash, &session.IsActive, &session.CreatedAt, &session.LastActivity,
		&session.ExpiresAt, &session.RevokedReason)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return session, nil
}

// RevokeSession marks a session inactive. Revoking an already revoked or
// unknown session is not an error.
func (r *SessionRepository) RevokeSession(sessionID, reason string) error {
	query := r.client.Prepared.RevokeSession.Bind(reason, sessionID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeSessionsForDevice walks the device index and revokes every session.
// Returns the number of sessions touched.
func (r *SessionRepository) RevokeSessionsForDevice(deviceID, reason string) (int, error) {
	iter := r.client.Prepared.ListSessionsByDevice.Bind(deviceID).Iter()

	var sessionIDs []string
	var sessionID string
	for iter.Scan(&sessionID) {
		sessionIDs = append(sessionIDs, sessionID)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to list sessions for device: %w", err)
	}

	for _, id := range sessionIDs {
		if err := r.RevokeSession(id, reason); err != nil {
			return 0, err
		}
	}

	util.Info("Sessions revoked for device",
		util.String("device_id", deviceID),
		util.Int("count", len(sessionIDs)))
	return len(sessionIDs), nil
}

func (r *SessionRepository) TouchSession(sessionID string, at time.Time) error {
	query := r.client.Prepared.TouchSession.Bind(at, sessionID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}
