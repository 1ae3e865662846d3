// Package storage supplies the learning loop's external collaborators:
// the game queue and posterior/weight persistence in Postgres, the game
// feature archive in ClickHouse, and a Redis read-through cache.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// PgPool is the slice of pgxpool.Pool the stores use.
type PgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// GameSource feeds the orchestrator its chronologically ordered work queue.
type GameSource interface {
	// NextUnprocessedGames returns up to limit pending games in ascending
	// (gameDate, gameId) order.
	NextUnprocessedGames(ctx context.Context, limit int) ([]models.GameRecord, error)
	// MarkProcessed flags a game as done. Calling it twice has the same
	// observable effect as once.
	MarkProcessed(ctx context.Context, gameID uuid.UUID) error
	// TeamHasRecentGames reports whether the team played a processed game
	// within the window before the given date. Used to pick the initial
	// posterior width.
	TeamHasRecentGames(ctx context.Context, teamID string, before time.Time, window time.Duration) (bool, error)
}

// FeatureSource derives the per-game vectors from the game archive.
type FeatureSource interface {
	ExtractFeatures(ctx context.Context, game models.GameRecord) (*models.GameFeatures, error)
}

// PosteriorStore persists team posteriors.
type PosteriorStore interface {
	GetTeamPosterior(ctx context.Context, teamID string) (*models.TeamPosterior, error)
	SaveTeamPosterior(ctx context.Context, p *models.TeamPosterior) error
}

// WeightStore persists opaque model weight checkpoints.
type WeightStore interface {
	LoadModelWeights(ctx context.Context, modelName string) (*models.WeightSnapshot, error)
	SaveModelWeights(ctx context.Context, snap *models.WeightSnapshot) error
}

// FeedbackStore persists the feedback coordinator's singleton state.
type FeedbackStore interface {
	LoadFeedbackState(ctx context.Context) (*models.FeedbackState, error)
	SaveFeedbackState(ctx context.Context, s models.FeedbackState) error
}
