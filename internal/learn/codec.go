package learn

import (
	"fmt"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// FeatureCodec converts raw box-score records into the fixed vectors the
// model consumes. Pure functions, no state.

// Per-quarter normalization bounds for the 15 counting stats. Values are
// generous upper bounds for a single NBA/NCAA quarter; anything above is
// clamped to 1.0 rather than rejected.
var quarterBounds = [15]float64{
	20, // fg2m
	35, // fg2a
	12, // fg3m
	25, // fg3a
	20, // ftm
	25, // fta
	12, // oreb
	20, // dreb
	15, // ast
	8,  // stl
	6,  // blk
	12, // tov
	12, // pf
	55, // pts
	35, // poss
}

// EncodeFeatures flattens a team box score into the 88-dim feature vector:
// 22 stats per quarter across 4 quarters. The first 15 slots per quarter are
// normalized counts; the remaining 7 are shooting/usage rates rescaled from
// percentages.
func EncodeFeatures(box *models.TeamBoxScore) (models.FeatureVector, error) {
	if box == nil {
		return nil, fmt.Errorf("%w: nil box score", ErrData)
	}
	out := make(models.FeatureVector, 0, models.FeatureDim)
	for qi := range box.Quarters {
		q := &box.Quarters[qi]
		counts := [15]float64{
			q.TwoPtMade, q.TwoPtAtt, q.ThreePtMade, q.ThreePtAtt,
			q.FTMade, q.FTAtt, q.OffReb, q.DefReb, q.Assists,
			q.Steals, q.Blocks, q.Turnovers, q.Fouls, q.Points, q.Possessions,
		}
		for i, c := range counts {
			if c < 0 {
				return nil, fmt.Errorf("%w: negative stat %d in quarter %d", ErrData, i, qi+1)
			}
			out = append(out, clamp(c/quarterBounds[i], 0, 1))
		}
		out = append(out,
			pct(q.TwoPtMade, q.TwoPtAtt),
			pct(q.ThreePtMade, q.ThreePtAtt),
			pct(q.FTMade, q.FTAtt),
			effectiveFGPct(q),
			rate(q.OffReb, q.OffReb+q.DefReb),
			rate(q.Assists, q.Possessions),
			rate(q.Turnovers, q.Possessions),
		)
	}
	if len(out) != models.FeatureDim {
		return nil, fmt.Errorf("%w: encoded %d dims, want %d", ErrData, len(out), models.FeatureDim)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrData, err)
	}
	return out, nil
}

// EncodeEventProbabilities normalizes possession-outcome tallies into the
// 8-dim ground-truth distribution.
func EncodeEventProbabilities(t models.EventTallies) (models.EventProbabilityVector, error) {
	raw := [models.EventDim]float64{
		t.TwoPtMake, t.TwoPtMiss, t.ThreePtMake, t.ThreePtMiss,
		t.FTMake, t.FTMiss, t.OffReb, t.Turnover,
	}
	var total float64
	for i, v := range raw {
		if v < 0 {
			return nil, fmt.Errorf("%w: negative event tally at %s", ErrData, models.EventNames[i])
		}
		total += v
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: empty event tallies", ErrData)
	}
	out := make(models.EventProbabilityVector, models.EventDim)
	for i, v := range raw {
		out[i] = v / total
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrData, err)
	}
	return out, nil
}

// pct is makes/attempts rescaled from [0,100] into [0,1], 0 when no attempts.
func pct(made, att float64) float64 {
	if att <= 0 {
		return 0
	}
	p := 100 * made / att
	return clamp(p, 0, 100) / 100
}

// rate is a bounded ratio in [0,1], 0 when the denominator is empty.
func rate(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return clamp(num/den, 0, 1)
}

func effectiveFGPct(q *models.QuarterLine) float64 {
	att := q.TwoPtAtt + q.ThreePtAtt
	if att <= 0 {
		return 0
	}
	eff := (q.TwoPtMade + 1.5*q.ThreePtMade) / att
	return clamp(eff, 0, 1)
}
