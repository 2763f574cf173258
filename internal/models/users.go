package models

import "time"

// Role is the closed set of principal roles known to the auth core.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type User struct {
	UserBucket      int        `db:"user_bucket"`
	UserID          string     `db:"user_id"`
	EmailHash       string     `db:"email_hash"`
	EmailEncrypted  []byte     `db:"email_encrypted"`
	EmailKeyID      string     `db:"email_key_id"`
	PasswordHash    string     `db:"password_hash"`
	PasswordSalt    string     `db:"password_salt"`
	PepperVersion   int        `db:"pepper_version"`
	HashAlgorithm   string     `db:"hash_algorithm"`
	Role            Role       `db:"role"`
	TOTPSecretEnc   []byte     `db:"totp_secret_enc"`
	TOTPKeyID       string     `db:"totp_key_id"`
	TOTPEnabled     bool       `db:"totp_enabled"`
	BackupCodeHashes []string  `db:"backup_code_hashes"`
	CreatedAt       time.Time  `db:"created_at"`
	LastLogin       *time.Time `db:"last_login"`
	UpdatedAt       *time.Time `db:"updated_at"`
}

// HasSecondFactor reports whether any second-factor material is configured.
func (u *User) HasSecondFactor() bool {
	return u.TOTPEnabled || len(u.BackupCodeHashes) > 0
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
