package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"collab-auth/internal/config"
	"collab-auth/internal/models"
)

type stubProvider struct {
	entry *models.IPReputationEntry
	err   error
}

func (s stubProvider) Lookup(_ context.Context, ip string) (*models.IPReputationEntry, error) {
	if s.entry == nil {
		return models.NeutralReputation(ip, time.Now().UTC()), s.err
	}
	return s.entry, s.err
}

type stubFailures struct {
	count int
	err   error
}

func (s stubFailures) GetFailures(string) (int, error) { return s.count, s.err }

func riskConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Risk = config.RiskConfig{
		TrustedBase:        5,
		PendingBase:        40,
		UntrustedBase:      75,
		ReputationWeight:   0.3,
		FailurePenalty:     8,
		FailurePenaltyCap:  30,
		MediumThreshold:    30,
		HighThreshold:      60,
		FailureWindow:      time.Hour,
		ReputationTimeout:  time.Second,
		ReputationStaleTTL: time.Hour,
	}
	return cfg
}

func reputationOf(score int, status models.ReputationStatus) *models.IPReputationEntry {
	return &models.IPReputationEntry{
		IPAddress:   "203.0.113.9",
		Status:      status,
		Score:       score,
		RefreshedAt: time.Now().UTC(),
	}
}

func TestTrustedCleanDeviceScoresLow(t *testing.T) {
	engine := NewEngine(riskConfig(), stubProvider{}, stubFailures{})

	a := engine.Score(Inputs{
		TrustStatus: models.TrustTrusted,
		Reputation:  reputationOf(0, models.ReputationClean),
	})

	assert.Equal(t, 5, a.Score)
	assert.Equal(t, models.RiskLow, a.Level)
}

func TestUntrustedDeviceScoresHigh(t *testing.T) {
	engine := NewEngine(riskConfig(), stubProvider{}, stubFailures{})

	a := engine.Score(Inputs{
		TrustStatus: models.TrustUntrusted,
		Reputation:  reputationOf(0, models.ReputationClean),
	})

	assert.GreaterOrEqual(t, a.Score, 60)
	assert.Equal(t, models.RiskHigh, a.Level)
}

func TestScoreClampsAtHundred(t *testing.T) {
	engine := NewEngine(riskConfig(), stubProvider{}, stubFailures{})

	a := engine.Score(Inputs{
		TrustStatus:    models.TrustUntrusted,
		Reputation:     reputationOf(100, models.ReputationMalicious),
		RecentFailures: 50,
	})

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, models.RiskHigh, a.Level)
}

func TestFailurePenaltyIsCapped(t *testing.T) {
	engine := NewEngine(riskConfig(), stubProvider{}, stubFailures{})

	base := engine.Score(Inputs{
		TrustStatus: models.TrustTrusted,
		Reputation:  reputationOf(0, models.ReputationClean),
	})
	atCap := engine.Score(Inputs{
		TrustStatus:    models.TrustTrusted,
		Reputation:     reputationOf(0, models.ReputationClean),
		RecentFailures: 4,
	})
	beyondCap := engine.Score(Inputs{
		TrustStatus:    models.TrustTrusted,
		Reputation:     reputationOf(0, models.ReputationClean),
		RecentFailures: 400,
	})

	assert.Equal(t, base.Score+30, atCap.Score)
	assert.Equal(t, atCap.Score, beyondCap.Score)
}

func TestScoreIsMonotoneInEachInput(t *testing.T) {
	engine := NewEngine(riskConfig(), stubProvider{}, stubFailures{})

	trustOrder := []models.TrustStatus{models.TrustTrusted, models.TrustPending, models.TrustUntrusted}

	for _, trust := range trustOrder {
		for repScore := 0; repScore <= 100; repScore += 10 {
			for failures := 0; failures <= 10; failures++ {
				here := engine.Score(Inputs{
					TrustStatus:    trust,
					Reputation:     reputationOf(repScore, models.ReputationSuspicious),
					RecentFailures: failures,
				}).Score

				worseRep := engine.Score(Inputs{
					TrustStatus:    trust,
					Reputation:     reputationOf(repScore+10, models.ReputationSuspicious),
					RecentFailures: failures,
				}).Score
				assert.GreaterOrEqual(t, worseRep, here)

				moreFailures := engine.Score(Inputs{
					TrustStatus:    trust,
					Reputation:     reputationOf(repScore, models.ReputationSuspicious),
					RecentFailures: failures + 1,
				}).Score
				assert.GreaterOrEqual(t, moreFailures, here)
			}
		}
	}

	// Worse trust never lowers the score either.
	for i := 1; i < len(trustOrder); i++ {
		better := engine.Score(Inputs{TrustStatus: trustOrder[i-1], Reputation: reputationOf(50, models.ReputationUnknown)}).Score
		worse := engine.Score(Inputs{TrustStatus: trustOrder[i], Reputation: reputationOf(50, models.ReputationUnknown)}).Score
		assert.GreaterOrEqual(t, worse, better)
	}
}

func TestAssessDegradesWhenCollaboratorsFail(t *testing.T) {
	engine := NewEngine(riskConfig(),
		stubProvider{err: errors.New("reputation down")},
		stubFailures{err: errors.New("redis down")})

	a := engine.Assess(context.Background(), "user-1", "203.0.113.9", models.TrustPending)

	// Neutral reputation (50) and zero failures: 40 + 15 = 55.
	assert.Equal(t, 55, a.Score)
	assert.Equal(t, models.RiskMedium, a.Level)
	assert.Equal(t, models.ReputationUnknown, a.Reputation.Status)
}

func TestDefaultPromotionPolicy(t *testing.T) {
	lowRisk := Assessment{Score: 40}
	highRisk := Assessment{Score: 65}

	ready := &models.DeviceFingerprint{TrustStatus: models.TrustPending, StepUpStreak: 3}
	early := &models.DeviceFingerprint{TrustStatus: models.TrustPending, StepUpStreak: 2}
	untrusted := &models.DeviceFingerprint{TrustStatus: models.TrustUntrusted, StepUpStreak: 10}
	trusted := &models.DeviceFingerprint{TrustStatus: models.TrustTrusted, StepUpStreak: 10}

	assert.True(t, DefaultPromotionPolicy(ready, lowRisk))
	assert.False(t, DefaultPromotionPolicy(ready, highRisk))
	assert.False(t, DefaultPromotionPolicy(early, lowRisk))
	assert.False(t, DefaultPromotionPolicy(untrusted, lowRisk))
	assert.False(t, DefaultPromotionPolicy(trusted, lowRisk))
}
