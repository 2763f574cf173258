package models

import (
	"fmt"
	"time"
)

// TrustStatus is the device registry's classification of a device. The set is
// closed: a "blocked" outcome is derived from the IP blacklist or an admin
// forcing untrusted, never stored as a fourth state.
type TrustStatus string

const (
	TrustPending   TrustStatus = "pending"
	TrustTrusted   TrustStatus = "trusted"
	TrustUntrusted TrustStatus = "untrusted"
)

// ParseTrustStatus validates an externally supplied trust status value.
func ParseTrustStatus(s string) (TrustStatus, error) {
	switch TrustStatus(s) {
	case TrustPending, TrustTrusted, TrustUntrusted:
		return TrustStatus(s), nil
	}
	return "", fmt.Errorf("invalid trust status: %q", s)
}

type DeviceFingerprint struct {
	UserBucket      int         `db:"user_bucket"`
	UserID          string      `db:"user_id"`
	FingerprintHash string      `db:"fingerprint_hash"`
	DeviceID        string      `db:"device_id"`
	TrustStatus     TrustStatus `db:"trust_status"`
	RiskScore       int         `db:"risk_score"`
	LastIP          string      `db:"last_ip"`
	UserAgent       string      `db:"user_agent"`
	StepUpStreak    int         `db:"stepup_streak"`
	CreatedAt       time.Time   `db:"created_at"`
	LastUsed        time.Time   `db:"last_used"`
	UpdatedAt       time.Time   `db:"updated_at"`
}
