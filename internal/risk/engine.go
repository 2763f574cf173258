package risk

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"collab-auth/internal/config"
	"collab-auth/internal/models"
	"collab-auth/internal/reputation"
	"collab-auth/internal/util"
)

// Inputs are the signals a single login attempt is scored on.
type Inputs struct {
	TrustStatus    models.TrustStatus
	Reputation     *models.IPReputationEntry
	RecentFailures int
}

// Assessment is the engine's verdict. Score is 0 to 100 and monotone in each
// input: a worse trust state, a worse reputation or more failures never
// lowers it.
type Assessment struct {
	Score          int
	Level          models.RiskLevel
	Reputation     *models.IPReputationEntry
	RecentFailures int
}

// FailureCounter reports recent authentication failures for an account.
type FailureCounter interface {
	GetFailures(userID string) (int, error)
}

type Engine struct {
	cfg        config.RiskConfig
	reputation reputation.Provider
	failures   FailureCounter
}

func NewEngine(cfg *config.Config, provider reputation.Provider, failures FailureCounter) *Engine {
	return &Engine{
		cfg:        cfg.Risk,
		reputation: provider,
		failures:   failures,
	}
}

// Assess gathers the reputation verdict and the failure count concurrently,
// then scores. Collaborator failures degrade to neutral inputs; assessment
// itself never fails an authentication.
func (e *Engine) Assess(ctx context.Context, userID, ip string, trust models.TrustStatus) Assessment {
	inputs := Inputs{
		TrustStatus: trust,
		Reputation:  models.NeutralReputation(ip, time.Now().UTC()),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entry, err := e.reputation.Lookup(gctx, ip)
		if entry != nil {
			inputs.Reputation = entry
		}
		if err != nil {
			util.Warn("Risk assessment using neutral reputation",
				util.String("ip", ip),
				util.ErrorField(err))
		}
		return nil
	})

	g.Go(func() error {
		count, err := e.failures.GetFailures(userID)
		if err != nil {
			util.Warn("Risk assessment missing failure count",
				util.String("user_id", userID),
				util.ErrorField(err))
			return nil
		}
		inputs.RecentFailures = count
		return nil
	})

	// Both goroutines swallow their errors; Wait only orders the writes.
	_ = g.Wait()

	return e.Score(inputs)
}

// Score is the pure scoring function.
func (e *Engine) Score(inputs Inputs) Assessment {
	score := e.trustBase(inputs.TrustStatus)

	repScore := 50
	rep := inputs.Reputation
	if rep != nil {
		repScore = rep.Score
	}
	score += int(float64(repScore) * e.cfg.ReputationWeight)

	penalty := inputs.RecentFailures * e.cfg.FailurePenalty
	if penalty > e.cfg.FailurePenaltyCap {
		penalty = e.cfg.FailurePenaltyCap
	}
	score += penalty

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Assessment{
		Score:          score,
		Level:          e.level(score),
		Reputation:     rep,
		RecentFailures: inputs.RecentFailures,
	}
}

func (e *Engine) trustBase(status models.TrustStatus) int {
	switch status {
	case models.TrustTrusted:
		return e.cfg.TrustedBase
	case models.TrustUntrusted:
		return e.cfg.UntrustedBase
	default:
		return e.cfg.PendingBase
	}
}

func (e *Engine) level(score int) models.RiskLevel {
	switch {
	case score < e.cfg.MediumThreshold:
		return models.RiskLow
	case score < e.cfg.HighThreshold:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}
