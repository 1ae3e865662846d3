package learn

import (
	"errors"
	"math"
	"testing"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

func testBoxScore() *models.TeamBoxScore {
	box := &models.TeamBoxScore{GameID: "g1", TeamID: "team-001"}
	for q := range box.Quarters {
		box.Quarters[q] = models.QuarterLine{
			TwoPtMade: 8, TwoPtAtt: 15, ThreePtMade: 3, ThreePtAtt: 9,
			FTMade: 4, FTAtt: 5, OffReb: 3, DefReb: 8, Assists: 6,
			Steals: 2, Blocks: 1, Turnovers: 4, Fouls: 5, Points: 29, Possessions: 24,
		}
	}
	return box
}

func TestEncodeFeaturesDims(t *testing.T) {
	feats, err := EncodeFeatures(testBoxScore())
	if err != nil {
		t.Fatalf("EncodeFeatures failed: %v", err)
	}
	if len(feats) != models.FeatureDim {
		t.Fatalf("got %d dims, want %d", len(feats), models.FeatureDim)
	}
	for i, v := range feats {
		if v < 0 || v > 1 {
			t.Errorf("dim %d = %f, want [0,1]", i, v)
		}
	}
}

func TestEncodeFeaturesClampsOutliers(t *testing.T) {
	box := testBoxScore()
	// Absurd single-quarter total; should clamp, not reject.
	box.Quarters[0].Points = 90
	feats, err := EncodeFeatures(box)
	if err != nil {
		t.Fatalf("EncodeFeatures failed: %v", err)
	}
	if feats[13] != 1.0 {
		t.Errorf("points feature = %f, want clamped to 1.0", feats[13])
	}
}

func TestEncodeFeaturesRejectsNegativeStat(t *testing.T) {
	box := testBoxScore()
	box.Quarters[2].Assists = -1
	if _, err := EncodeFeatures(box); !errors.Is(err, ErrData) {
		t.Fatalf("got err %v, want ErrData", err)
	}
}

func TestEncodeFeaturesNilBox(t *testing.T) {
	if _, err := EncodeFeatures(nil); !errors.Is(err, ErrData) {
		t.Fatalf("got err %v, want ErrData", err)
	}
}

func TestEncodeFeaturesZeroAttempts(t *testing.T) {
	// A team that never shot: rates must fall back to 0, not NaN.
	box := &models.TeamBoxScore{}
	for q := range box.Quarters {
		box.Quarters[q] = models.QuarterLine{DefReb: 5, Possessions: 20, Turnovers: 20}
	}
	feats, err := EncodeFeatures(box)
	if err != nil {
		t.Fatalf("EncodeFeatures failed: %v", err)
	}
	for i, v := range feats {
		if math.IsNaN(v) {
			t.Fatalf("dim %d is NaN", i)
		}
	}
}

func TestEncodeEventProbabilitiesNormalizes(t *testing.T) {
	probs, err := EncodeEventProbabilities(testBoxScore().Tallies())
	if err != nil {
		t.Fatalf("EncodeEventProbabilities failed: %v", err)
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("probabilities sum to %f, want 1.0", sum)
	}
	if err := probs.Validate(); err != nil {
		t.Errorf("validation failed: %v", err)
	}
}

func TestEncodeEventProbabilitiesEmpty(t *testing.T) {
	if _, err := EncodeEventProbabilities(models.EventTallies{}); !errors.Is(err, ErrData) {
		t.Fatalf("got err %v, want ErrData", err)
	}
}

func TestEncodeEventProbabilitiesNegative(t *testing.T) {
	tallies := testBoxScore().Tallies()
	tallies.Turnover = -3
	if _, err := EncodeEventProbabilities(tallies); !errors.Is(err, ErrData) {
		t.Fatalf("got err %v, want ErrData", err)
	}
}
