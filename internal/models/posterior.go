package models

import (
	"fmt"
	"math"
	"time"
)

// TeamPosterior is the persistent Gaussian belief about a team's underlying
// style, one per team. Written only by the belief updater via the
// orchestrator; everyone else treats snapshots as read-only.
type TeamPosterior struct {
	TeamID         string    `json:"team_id"`
	Mu             []float64 `json:"mu"`
	Sigma          []float64 `json:"sigma"`
	GamesProcessed int       `json:"games_processed"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Validate enforces the posterior invariants: length-16 finite arrays and
// strictly positive sigma. A posterior failing this must never be persisted.
func (p *TeamPosterior) Validate() error {
	if p == nil {
		return fmt.Errorf("nil posterior")
	}
	if len(p.Mu) != LatentDim {
		return fmt.Errorf("posterior mu has %d dims, want %d", len(p.Mu), LatentDim)
	}
	if len(p.Sigma) != LatentDim {
		return fmt.Errorf("posterior sigma has %d dims, want %d", len(p.Sigma), LatentDim)
	}
	if p.GamesProcessed < 0 {
		return fmt.Errorf("posterior games_processed is negative: %d", p.GamesProcessed)
	}
	for i := 0; i < LatentDim; i++ {
		if math.IsNaN(p.Mu[i]) || math.IsInf(p.Mu[i], 0) {
			return fmt.Errorf("posterior mu dim %d is non-finite", i)
		}
		if math.IsNaN(p.Sigma[i]) || math.IsInf(p.Sigma[i], 0) {
			return fmt.Errorf("posterior sigma dim %d is non-finite", i)
		}
		if p.Sigma[i] <= 0 {
			return fmt.Errorf("posterior sigma dim %d is non-positive: %f", i, p.Sigma[i])
		}
	}
	return nil
}

// Clone returns a deep copy so callers can hand out snapshots without
// aliasing the live arrays.
func (p *TeamPosterior) Clone() *TeamPosterior {
	cp := &TeamPosterior{
		TeamID:         p.TeamID,
		Mu:             make([]float64, len(p.Mu)),
		Sigma:          make([]float64, len(p.Sigma)),
		GamesProcessed: p.GamesProcessed,
		LastUpdated:    p.LastUpdated,
	}
	copy(cp.Mu, p.Mu)
	copy(cp.Sigma, p.Sigma)
	return cp
}

// MeanSigma is the average uncertainty across latent dimensions, used by the
// monitor to track convergence.
func (p *TeamPosterior) MeanSigma() float64 {
	if len(p.Sigma) == 0 {
		return 0
	}
	var sum float64
	for _, s := range p.Sigma {
		sum += s
	}
	return sum / float64(len(p.Sigma))
}
