package models

import "time"

// ReputationStatus is the coarse verdict of the external IP reputation
// collaborator. Unknown covers both "never looked up" and "lookup failed";
// it is neutral, never risk-reducing.
type ReputationStatus string

const (
	ReputationClean      ReputationStatus = "clean"
	ReputationSuspicious ReputationStatus = "suspicious"
	ReputationMalicious  ReputationStatus = "malicious"
	ReputationUnknown    ReputationStatus = "unknown"
)

type IPReputationEntry struct {
	IPAddress   string           `json:"ip_address"`
	Status      ReputationStatus `json:"status"`
	Score       int              `json:"score"`
	RefreshedAt time.Time        `json:"refreshed_at"`
}

func (e *IPReputationEntry) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.RefreshedAt) > ttl
}

// NeutralReputation is the conservative default used when the collaborator is
// unavailable or has never scored the address.
func NeutralReputation(ip string, now time.Time) *IPReputationEntry {
	return &IPReputationEntry{
		IPAddress:   ip,
		Status:      ReputationUnknown,
		Score:       50,
		RefreshedAt: now,
	}
}
