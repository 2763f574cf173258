package risk

import (
	"collab-auth/internal/models"
)

// PromotionPolicy decides whether a pending device has earned trusted status
// after another successful step-up. It must be a pure function of its inputs.
type PromotionPolicy func(device *models.DeviceFingerprint, assessment Assessment) bool

const (
	defaultPromotionStreak    = 3
	defaultPromotionRiskLimit = 60
)

// DefaultPromotionPolicy promotes a pending device once it has accumulated
// three consecutive successful step-ups and the current attempt scored below
// the high-risk band. A pending device on a clean network scores 40, so the
// limit has to sit above the pending base or no device could ever earn trust.
// Untrusted devices are never promoted here; that transition is admin only.
func DefaultPromotionPolicy(device *models.DeviceFingerprint, assessment Assessment) bool {
	if device.TrustStatus != models.TrustPending {
		return false
	}
	return device.StepUpStreak >= defaultPromotionStreak && assessment.Score < defaultPromotionRiskLimit
}
