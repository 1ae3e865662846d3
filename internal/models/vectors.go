package models

import (
	"fmt"
	"math"
)

// Vector dimensions are fixed by the model architecture. Changing any of
// these invalidates persisted weight snapshots.
const (
	FeatureDim = 88
	LatentDim  = 16
	EventDim   = 8
	ContextDim = 10
)

// EventProbSumTolerance is how far from 1.0 an event distribution may drift
// before it is rejected as malformed ground truth.
const EventProbSumTolerance = 0.01

// Event outcome indices within an EventProbabilityVector.
const (
	EventTwoPtMake = iota
	EventTwoPtMiss
	EventThreePtMake
	EventThreePtMiss
	EventFreeThrowMake
	EventFreeThrowMiss
	EventOffensiveRebound
	EventTurnover
)

// EventNames maps event indices to wire names, in vector order.
var EventNames = [EventDim]string{
	"two_pt_make",
	"two_pt_miss",
	"three_pt_make",
	"three_pt_miss",
	"ft_make",
	"ft_miss",
	"off_rebound",
	"turnover",
}

// FeatureVector is one team's normalized box-score performance for one game.
// Immutable once produced by the feature source.
type FeatureVector []float64

func (f FeatureVector) Validate() error {
	if len(f) != FeatureDim {
		return fmt.Errorf("feature vector has %d dims, want %d", len(f), FeatureDim)
	}
	for i, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature vector dim %d is non-finite", i)
		}
	}
	return nil
}

// EventProbabilityVector is the empirical distribution over possession
// outcomes for one team in one game.
type EventProbabilityVector []float64

func (e EventProbabilityVector) Validate() error {
	if len(e) != EventDim {
		return fmt.Errorf("event vector has %d dims, want %d", len(e), EventDim)
	}
	var sum float64
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("event vector dim %d is non-finite", i)
		}
		if v < 0 {
			return fmt.Errorf("event vector dim %d is negative: %f", i, v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > EventProbSumTolerance {
		return fmt.Errorf("event vector sums to %f, want 1.0 within %.2f", sum, EventProbSumTolerance)
	}
	return nil
}

// GameContextVector carries per-game context shared by both teams:
// [neutralSite, postseason, 8 reserved slots].
type GameContextVector []float64

func (g GameContextVector) Validate() error {
	if len(g) != ContextDim {
		return fmt.Errorf("context vector has %d dims, want %d", len(g), ContextDim)
	}
	for i, v := range g {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("context vector dim %d is non-finite", i)
		}
	}
	return nil
}

// NewGameContext builds a context vector from the two flags currently in use.
// The remaining slots are reserved for derived signals and default to zero.
func NewGameContext(neutralSite, postseason bool) GameContextVector {
	ctx := make(GameContextVector, ContextDim)
	if neutralSite {
		ctx[0] = 1
	}
	if postseason {
		ctx[1] = 1
	}
	return ctx
}

// LatentDistribution is the per-game Gaussian latent produced by the encoder
// for one team. Transient: consumed by the predictor and belief updater,
// never persisted standalone.
type LatentDistribution struct {
	Mu     []float64 `json:"mu"`
	LogVar []float64 `json:"log_var"`
}

// Sigma converts log-variance to standard deviation per dimension.
func (l LatentDistribution) Sigma() []float64 {
	sigma := make([]float64, len(l.LogVar))
	for i, lv := range l.LogVar {
		sigma[i] = math.Exp(0.5 * lv)
	}
	return sigma
}

func (l LatentDistribution) Validate() error {
	if len(l.Mu) != LatentDim || len(l.LogVar) != LatentDim {
		return fmt.Errorf("latent has dims (%d,%d), want (%d,%d)", len(l.Mu), len(l.LogVar), LatentDim, LatentDim)
	}
	for i := 0; i < LatentDim; i++ {
		if math.IsNaN(l.Mu[i]) || math.IsInf(l.Mu[i], 0) || math.IsNaN(l.LogVar[i]) || math.IsInf(l.LogVar[i], 0) {
			return fmt.Errorf("latent dim %d is non-finite", i)
		}
	}
	return nil
}
