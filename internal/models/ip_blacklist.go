package models

import "time"

type IPBlacklistEntry struct {
	IPAddress string     `db:"ip_address"`
	Reason    string     `db:"reason"`
	CreatedBy string     `db:"created_by"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// IsActive reports whether the entry still blocks authentication. Entries
// without an expiry block indefinitely until removed.
func (e *IPBlacklistEntry) IsActive(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}
