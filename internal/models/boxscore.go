package models

// QuarterLine is one team's raw counting stats for a single quarter, as
// stored in the ClickHouse game archive. Overtime is folded into Q4 by the
// archive loader.
type QuarterLine struct {
	TwoPtMade   float64 `json:"fg2m"`
	TwoPtAtt    float64 `json:"fg2a"`
	ThreePtMade float64 `json:"fg3m"`
	ThreePtAtt  float64 `json:"fg3a"`
	FTMade      float64 `json:"ftm"`
	FTAtt       float64 `json:"fta"`
	OffReb      float64 `json:"oreb"`
	DefReb      float64 `json:"dreb"`
	Assists     float64 `json:"ast"`
	Steals      float64 `json:"stl"`
	Blocks      float64 `json:"blk"`
	Turnovers   float64 `json:"tov"`
	Fouls       float64 `json:"pf"`
	Points      float64 `json:"pts"`
	Possessions float64 `json:"poss"`
}

// Quarters per game. The feature layout is QuarterStatCount stats per
// quarter across QuartersPerGame quarters, which must multiply to FeatureDim.
const (
	QuartersPerGame  = 4
	QuarterStatCount = 22
)

// TeamBoxScore is one team's full per-quarter line for one game.
type TeamBoxScore struct {
	GameID   string                       `json:"game_id"`
	TeamID   string                       `json:"team_id"`
	Quarters [QuartersPerGame]QuarterLine `json:"quarters"`
}

// EventTallies are the raw possession-outcome counts for one team in one
// game, derived from the box score before normalization into an
// EventProbabilityVector.
type EventTallies struct {
	TwoPtMake   float64
	TwoPtMiss   float64
	ThreePtMake float64
	ThreePtMiss float64
	FTMake      float64
	FTMiss      float64
	OffReb      float64
	Turnover    float64
}

// Tallies sums possession outcomes across all quarters.
func (b *TeamBoxScore) Tallies() EventTallies {
	var t EventTallies
	for _, q := range b.Quarters {
		t.TwoPtMake += q.TwoPtMade
		t.TwoPtMiss += q.TwoPtAtt - q.TwoPtMade
		t.ThreePtMake += q.ThreePtMade
		t.ThreePtMiss += q.ThreePtAtt - q.ThreePtMade
		t.FTMake += q.FTMade
		t.FTMiss += q.FTAtt - q.FTMade
		t.OffReb += q.OffReb
		t.Turnover += q.Turnovers
	}
	return t
}
