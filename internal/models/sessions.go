package models

import "time"

type Session struct {
	SessionID       string    `db:"session_id"`
	UserID          string    `db:"user_id"`
	DeviceID        string    `db:"device_id"`
	FingerprintHash string    `db:"fingerprint_hash"`
	TokenHash       string    `db:"token_hash"`
	IsActive        bool      `db:"is_active"`
	CreatedAt       time.Time `db:"created_at"`
	LastActivity    time.Time `db:"last_activity"`
	ExpiresAt       time.Time `db:"expires_at"`
	RevokedReason   string    `db:"revoked_reason"`
}

func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
