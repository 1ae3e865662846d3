package models

import (
	"time"

	"github.com/google/uuid"
)

// GameRecord identifies one historical game in the processing queue.
// Games are always handled in ascending (GameDate, GameID) order.
type GameRecord struct {
	GameID     uuid.UUID `json:"game_id"`
	GameDate   time.Time `json:"game_date"`
	HomeTeamID string    `json:"home_team_id"`
	AwayTeamID string    `json:"away_team_id"`
}

// Less orders games chronologically, breaking date ties by id so the order
// is total and stable across runs.
func (g GameRecord) Less(other GameRecord) bool {
	if !g.GameDate.Equal(other.GameDate) {
		return g.GameDate.Before(other.GameDate)
	}
	return g.GameID.String() < other.GameID.String()
}

// GameFeatures is everything the feature source derives for one game: both
// teams' normalized feature vectors, the observed event distributions, and
// the shared context.
type GameFeatures struct {
	Home       FeatureVector          `json:"home"`
	Away       FeatureVector          `json:"away"`
	HomeEvents EventProbabilityVector `json:"home_events"`
	AwayEvents EventProbabilityVector `json:"away_events"`
	Context    GameContextVector      `json:"context"`
}

func (f *GameFeatures) Validate() error {
	if err := f.Home.Validate(); err != nil {
		return err
	}
	if err := f.Away.Validate(); err != nil {
		return err
	}
	if err := f.HomeEvents.Validate(); err != nil {
		return err
	}
	if err := f.AwayEvents.Validate(); err != nil {
		return err
	}
	return f.Context.Validate()
}

// GameResult records the outcome of processing one game.
type GameResult struct {
	GameID            uuid.UUID     `json:"game_id"`
	NNLoss            float64       `json:"nn_loss"`
	VAELoss           float64       `json:"vae_loss"`
	FeedbackTriggered bool          `json:"feedback_triggered"`
	AlphaUsed         float64       `json:"alpha_used"`
	ProcessingTime    time.Duration `json:"processing_time"`
	Skipped           bool          `json:"skipped"`
	Err               string        `json:"error,omitempty"`
}

// GameError is one failed game inside a run summary.
type GameError struct {
	GameID  uuid.UUID `json:"game_id"`
	Message string    `json:"message"`
	Retries int       `json:"retries"`
}

// RunSummary is returned by every training run, including partial failures.
type RunSummary struct {
	RunID                   uuid.UUID   `json:"run_id"`
	TotalGamesProcessed     int         `json:"total_games_processed"`
	SuccessfulGames         int         `json:"successful_games"`
	FailedGames             int         `json:"failed_games"`
	SuccessRate             float64     `json:"success_rate"`
	AverageProcessingTimeMs float64     `json:"average_processing_time_ms"`
	Errors                  []GameError `json:"errors"`
	StartedAt               time.Time   `json:"started_at"`
	FinishedAt              time.Time   `json:"finished_at"`
}

// StabilityReport summarizes the encoder/predictor feedback coupling.
type StabilityReport struct {
	FeedbackRate       float64 `json:"feedback_rate"`
	AlphaDecayObserved float64 `json:"alpha_decay_observed"`
	CurrentAlpha       float64 `json:"current_alpha"`
}

// TrainingStats is the aggregate view exposed to callers.
type TrainingStats struct {
	TotalIterations     int64           `json:"total_iterations"`
	FeedbackTriggers    int64           `json:"feedback_triggers"`
	ConvergenceAchieved bool            `json:"convergence_achieved"`
	AverageNNLoss       float64         `json:"average_nn_loss"`
	AverageVAELoss      float64         `json:"average_vae_loss"`
	Stability           StabilityReport `json:"stability"`
}
