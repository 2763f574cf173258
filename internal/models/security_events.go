package models

import "time"

// Security event types emitted by the auth core. The log is append-only;
// nothing in this service mutates or deletes recorded events.
const (
	EventLoginSuccess     = "login_success"
	EventLoginFailure     = "login_failure"
	EventLoginBlocked     = "login_blocked"
	EventStepUpRequired   = "stepup_required"
	EventStepUpSuccess    = "stepup_success"
	EventStepUpFailure    = "stepup_failure"
	EventChallengeExpired = "challenge_expired"
	EventTrustChanged     = "trust_changed"
	EventBlacklistAdded   = "blacklist_added"
	EventBlacklistRemoved = "blacklist_removed"
	EventDeviceRegistered = "device_registered"
	EventSessionsRevoked  = "sessions_revoked"
	EventTokenRevoked     = "token_revoked"
	EventAlertSent        = "alert_sent"
)

type SecurityEvent struct {
	EventBucket     int       `db:"event_bucket" json:"event_bucket"`
	EventID         string    `db:"event_id" json:"event_id"`
	UserID          string    `db:"user_id" json:"user_id"`
	EventType       string    `db:"event_type" json:"event_type"`
	Actor           string    `db:"actor" json:"actor"`
	IPAddress       string    `db:"ip_address" json:"ip_address"`
	FingerprintHash string    `db:"fingerprint_hash" json:"fingerprint_hash"`
	SessionID       string    `db:"session_id" json:"session_id"`
	RiskScore       int       `db:"risk_score" json:"risk_score"`
	Details         string    `db:"details" json:"details"`
	EventTime       time.Time `db:"event_time" json:"event_time"`
}
