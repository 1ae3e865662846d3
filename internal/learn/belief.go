package learn

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// BeliefConfig tunes the per-team posterior updates.
type BeliefConfig struct {
	LearningRate   float64 // base step size, (0, 1]
	MinUncertainty float64 // sigma floor, > 0
	InitialSigma   float64 // sigma at first encounter, >= MinUncertainty
	StaleSigma     float64 // inflated sigma for teams with no recent games, >= InitialSigma
	MaxDeltaMu     float64 // per-update clip on mu movement, > 0
	MaxDeltaSigma  float64 // per-update clip on sigma shrinkage, > 0
	ErrorGainCap   float64 // cap on the prediction-error modulation, >= 0
	Seed           uint64
}

func (c *BeliefConfig) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("%w: belief learning rate must be in (0,1], got %f", ErrConfig, c.LearningRate)
	}
	if c.MinUncertainty <= 0 {
		return fmt.Errorf("%w: min uncertainty must be positive, got %f", ErrConfig, c.MinUncertainty)
	}
	if c.InitialSigma < c.MinUncertainty {
		return fmt.Errorf("%w: initial sigma %f below min uncertainty %f", ErrConfig, c.InitialSigma, c.MinUncertainty)
	}
	if c.StaleSigma < c.InitialSigma {
		return fmt.Errorf("%w: stale sigma %f below initial sigma %f", ErrConfig, c.StaleSigma, c.InitialSigma)
	}
	if c.MaxDeltaMu <= 0 || c.MaxDeltaSigma <= 0 {
		return fmt.Errorf("%w: posterior delta clips must be positive", ErrConfig)
	}
	if c.ErrorGainCap < 0 {
		return fmt.Errorf("%w: error gain cap must be non-negative, got %f", ErrConfig, c.ErrorGainCap)
	}
	return nil
}

// surpriseHold is the z-score beyond which a latent observation is treated
// as contradicting evidence: sigma holds instead of shrinking for that
// dimension.
const surpriseHold = 3.0

// BeliefUpdater maintains each team's running Gaussian posterior over its
// true style. It never touches storage; the orchestrator persists the
// snapshots it returns.
type BeliefUpdater struct {
	cfg    BeliefConfig
	noise  distuv.Normal
	logger *zap.SugaredLogger
}

func NewBeliefUpdater(cfg BeliefConfig, logger *zap.Logger) (*BeliefUpdater, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BeliefUpdater{
		cfg:    cfg,
		noise:  distuv.Normal{Mu: 0, Sigma: 0.05, Src: rand.NewSource(cfg.Seed)},
		logger: logger.Sugar(),
	}, nil
}

// Initialize creates a fresh posterior for a team's first encounter: mu near
// zero, sigma at the configured prior width, inflated when the team has no
// recent games (inter-season uncertainty).
func (u *BeliefUpdater) Initialize(teamID string, hasRecentGames bool) *models.TeamPosterior {
	sigma := u.cfg.InitialSigma
	if !hasRecentGames {
		sigma = u.cfg.StaleSigma
	}
	p := &models.TeamPosterior{
		TeamID:      teamID,
		Mu:          make([]float64, models.LatentDim),
		Sigma:       make([]float64, models.LatentDim),
		LastUpdated: time.Now().UTC(),
	}
	for i := 0; i < models.LatentDim; i++ {
		p.Mu[i] = u.noise.Rand()
		p.Sigma[i] = sigma
	}
	return p
}

// Update fuses the prior posterior with a new per-game latent estimate.
// Confident priors (small sigma) move less; the effective step size shrinks
// as games accumulate; larger prediction error produces a larger nudge; and
// both deltas are clipped so one outlier game cannot cause an unbounded
// jump. Returns a new snapshot, leaving the input untouched.
func (u *BeliefUpdater) Update(prior *models.TeamPosterior, latent models.LatentDistribution, gameCtx models.GameContextVector, predictionError float64) (*models.TeamPosterior, error) {
	repaired, err := u.Repair(prior)
	if err != nil {
		return nil, err
	}
	if err := latent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrData, err)
	}
	if math.IsNaN(predictionError) || math.IsInf(predictionError, 0) {
		return nil, fmt.Errorf("%w: prediction error is %v", ErrNumericInstability, predictionError)
	}
	if predictionError < 0 {
		predictionError = 0
	}

	eff := u.cfg.LearningRate / math.Sqrt(float64(repaired.GamesProcessed)+1)
	errMod := 1 + clamp(predictionError, 0, u.cfg.ErrorGainCap)

	next := repaired.Clone()
	for i := 0; i < models.LatentDim; i++ {
		obsVar := math.Exp(clamp(latent.LogVar[i], logVarMin, logVarMax))
		priorVar := repaired.Sigma[i] * repaired.Sigma[i]
		// Kalman-style gain: a confident prior (small variance) yields a
		// small gain and therefore a small move.
		gain := priorVar / (priorVar + obsVar)

		dMu := clamp(gain*eff*errMod*(latent.Mu[i]-repaired.Mu[i]), -u.cfg.MaxDeltaMu, u.cfg.MaxDeltaMu)
		next.Mu[i] = repaired.Mu[i] + dMu

		surprise := math.Abs(latent.Mu[i]-repaired.Mu[i]) / repaired.Sigma[i]
		if surprise <= surpriseHold {
			dSigma := clamp(gain*eff*repaired.Sigma[i], 0, u.cfg.MaxDeltaSigma)
			next.Sigma[i] = math.Max(u.cfg.MinUncertainty, repaired.Sigma[i]-dSigma)
		}
	}
	next.GamesProcessed = repaired.GamesProcessed + 1
	next.LastUpdated = time.Now().UTC()

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: update produced invalid posterior: %v", ErrNumericInstability, err)
	}
	return next, nil
}

// Repair validates a posterior before it is used or written back, fixing
// what it safely can: non-finite or non-positive sigma entries reset to the
// prior width, non-finite mu entries reset to zero. Wrong-length arrays are
// unrecoverable. This guards against silently corrupting a team's belief
// permanently.
func (u *BeliefUpdater) Repair(p *models.TeamPosterior) (*models.TeamPosterior, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil posterior", ErrPosteriorUnavailable)
	}
	if len(p.Mu) != models.LatentDim || len(p.Sigma) != models.LatentDim {
		return nil, fmt.Errorf("%w: posterior for %s has dims (%d,%d)", ErrPosteriorUnavailable, p.TeamID, len(p.Mu), len(p.Sigma))
	}
	if p.Validate() == nil {
		return p, nil
	}

	fixed := p.Clone()
	var repairs int
	for i := 0; i < models.LatentDim; i++ {
		if math.IsNaN(fixed.Mu[i]) || math.IsInf(fixed.Mu[i], 0) {
			fixed.Mu[i] = 0
			repairs++
		}
		if math.IsNaN(fixed.Sigma[i]) || math.IsInf(fixed.Sigma[i], 0) || fixed.Sigma[i] <= 0 {
			fixed.Sigma[i] = u.cfg.InitialSigma
			repairs++
		}
	}
	if fixed.GamesProcessed < 0 {
		fixed.GamesProcessed = 0
		repairs++
	}
	if err := fixed.Validate(); err != nil {
		return nil, fmt.Errorf("%w: posterior for %s not repairable: %v", ErrPosteriorUnavailable, p.TeamID, err)
	}
	u.logger.Warnw("repaired corrupt team posterior", "team_id", p.TeamID, "repairs", repairs)
	return fixed, nil
}
