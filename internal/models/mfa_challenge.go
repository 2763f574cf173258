package models

import "time"

// RiskLevel is the coarse decision bucket derived from the numeric risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// PendingMFAChallenge is the ephemeral state between a successful credential
// check and session finalization. It lives in Redis under the challenge TTL;
// an abandoned challenge simply expires and never finalizes a session.
type PendingMFAChallenge struct {
	ChallengeID     string    `json:"challenge_id"`
	UserID          string    `json:"user_id"`
	DeviceID        string    `json:"device_id"`
	FingerprintHash string    `json:"fingerprint_hash"`
	IPAddress       string    `json:"ip_address"`
	EmailCodeHash   string    `json:"email_code_hash"`
	EmailCodeSalt   string    `json:"email_code_salt"`
	PepperVersion   int       `json:"pepper_version"`
	CodeExpiresAt   time.Time `json:"code_expires_at"`
	EmailCodeSpent  bool      `json:"email_code_spent"`
	RiskLevel       RiskLevel `json:"risk_level"`
	RiskScore       int       `json:"risk_score"`
	Remember        bool      `json:"remember"`
	Attempts        int       `json:"attempts"`
	CreatedAt       time.Time `json:"created_at"`
}
