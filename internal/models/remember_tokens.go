package models

import "time"

// RememberToken is the stored half of a selector.verifier remember credential.
// Only the salted hash of the verifier is persisted; the raw value is handed
// to the caller exactly once at issuance.
type RememberToken struct {
	TokenID       string    `db:"token_id"`
	UserID        string    `db:"user_id"`
	DeviceID      string    `db:"device_id"`
	VerifierHash  string    `db:"verifier_hash"`
	VerifierSalt  string    `db:"verifier_salt"`
	PepperVersion int       `db:"pepper_version"`
	Revoked       bool      `db:"revoked"`
	CreatedAt     time.Time `db:"created_at"`
	ExpiresAt     time.Time `db:"expires_at"`
}

func (t *RememberToken) IsUsable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
