package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// Store is the Postgres-backed implementation of GameSource,
// PosteriorStore, WeightStore, and FeedbackStore.
type Store struct {
	pg       PgPool
	keepLast int // weight checkpoints retained per model
	logger   *zap.SugaredLogger
}

func NewStore(pg PgPool, keepLast int, logger *zap.Logger) *Store {
	if keepLast <= 0 {
		keepLast = 5
	}
	return &Store{pg: pg, keepLast: keepLast, logger: logger.Sugar()}
}

// NextUnprocessedGames returns pending games ordered by (game_date, id).
// The orchestrator re-verifies the order; the ORDER BY here is not trusted
// as the invariant's only enforcement.
func (s *Store) NextUnprocessedGames(ctx context.Context, limit int) ([]models.GameRecord, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT id, game_date, home_team_id, away_team_id
		FROM games
		WHERE NOT processed
		ORDER BY game_date ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending games: %w", err)
	}
	defer rows.Close()

	var games []models.GameRecord
	for rows.Next() {
		var g models.GameRecord
		if err := rows.Scan(&g.GameID, &g.GameDate, &g.HomeTeamID, &g.AwayTeamID); err != nil {
			return nil, fmt.Errorf("scanning game row: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// MarkProcessed is idempotent: a second call for the same game is a no-op
// and leaves processed_at untouched.
func (s *Store) MarkProcessed(ctx context.Context, gameID uuid.UUID) error {
	_, err := s.pg.Exec(ctx, `
		UPDATE games SET processed = TRUE, processed_at = NOW()
		WHERE id = $1 AND NOT processed
	`, gameID)
	if err != nil {
		return fmt.Errorf("marking game %s processed: %w", gameID, err)
	}
	return nil
}

func (s *Store) TeamHasRecentGames(ctx context.Context, teamID string, before time.Time, window time.Duration) (bool, error) {
	var exists bool
	err := s.pg.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM games
			WHERE (home_team_id = $1 OR away_team_id = $1)
			  AND processed
			  AND game_date >= $2 AND game_date < $3
		)
	`, teamID, before.Add(-window), before).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking recent games for %s: %w", teamID, err)
	}
	return exists, nil
}

func (s *Store) GetTeamPosterior(ctx context.Context, teamID string) (*models.TeamPosterior, error) {
	p := &models.TeamPosterior{TeamID: teamID}
	err := s.pg.QueryRow(ctx, `
		SELECT mu, sigma, games_processed, last_updated
		FROM team_posteriors WHERE team_id = $1
	`, teamID).Scan(&p.Mu, &p.Sigma, &p.GamesProcessed, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading posterior for %s: %w", teamID, err)
	}
	return p, nil
}

// SaveTeamPosterior upserts, but refuses to persist an invalid posterior:
// a corrupt write would poison the team's belief permanently.
func (s *Store) SaveTeamPosterior(ctx context.Context, p *models.TeamPosterior) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("refusing to persist posterior: %w", err)
	}
	_, err := s.pg.Exec(ctx, `
		INSERT INTO team_posteriors (team_id, mu, sigma, games_processed, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id) DO UPDATE SET
			mu = EXCLUDED.mu,
			sigma = EXCLUDED.sigma,
			games_processed = EXCLUDED.games_processed,
			last_updated = EXCLUDED.last_updated
	`, p.TeamID, p.Mu, p.Sigma, p.GamesProcessed, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("saving posterior for %s: %w", p.TeamID, err)
	}
	return nil
}

func (s *Store) LoadModelWeights(ctx context.Context, modelName string) (*models.WeightSnapshot, error) {
	snap := &models.WeightSnapshot{ModelName: modelName}
	err := s.pg.QueryRow(ctx, `
		SELECT step, data, saved_at FROM model_weights
		WHERE model_name = $1
		ORDER BY step DESC LIMIT 1
	`, modelName).Scan(&snap.Step, &snap.Data, &snap.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading weights for %s: %w", modelName, err)
	}
	return snap, nil
}

// SaveModelWeights stores a checkpoint and prunes older ones beyond the
// retention limit.
func (s *Store) SaveModelWeights(ctx context.Context, snap *models.WeightSnapshot) error {
	_, err := s.pg.Exec(ctx, `
		INSERT INTO model_weights (model_name, step, data, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (model_name, step) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at
	`, snap.ModelName, snap.Step, snap.Data, snap.SavedAt)
	if err != nil {
		return fmt.Errorf("saving weights for %s: %w", snap.ModelName, err)
	}

	_, err = s.pg.Exec(ctx, `
		DELETE FROM model_weights
		WHERE model_name = $1 AND step NOT IN (
			SELECT step FROM model_weights
			WHERE model_name = $1
			ORDER BY step DESC LIMIT $2
		)
	`, snap.ModelName, s.keepLast)
	if err != nil {
		// Retention is best effort; the checkpoint itself landed.
		s.logger.Warnw("failed to prune old weight checkpoints", "model", snap.ModelName, "error", err)
	}
	return nil
}

func (s *Store) LoadFeedbackState(ctx context.Context) (*models.FeedbackState, error) {
	var fs models.FeedbackState
	err := s.pg.QueryRow(ctx, `SELECT step, current_alpha FROM feedback_state WHERE id = 1`).
		Scan(&fs.Step, &fs.CurrentAlpha)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading feedback state: %w", err)
	}
	return &fs, nil
}

func (s *Store) SaveFeedbackState(ctx context.Context, fs models.FeedbackState) error {
	_, err := s.pg.Exec(ctx, `
		INSERT INTO feedback_state (id, step, current_alpha) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET step = EXCLUDED.step, current_alpha = EXCLUDED.current_alpha
	`, fs.Step, fs.CurrentAlpha)
	if err != nil {
		return fmt.Errorf("saving feedback state: %w", err)
	}
	return nil
}

// InsertGame registers a game in the processing queue. Used by the backfill
// tool and tests.
func (s *Store) InsertGame(ctx context.Context, g models.GameRecord) error {
	_, err := s.pg.Exec(ctx, `
		INSERT INTO games (id, game_date, home_team_id, away_team_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, g.GameID, g.GameDate, g.HomeTeamID, g.AwayTeamID)
	if err != nil {
		return fmt.Errorf("inserting game %s: %w", g.GameID, err)
	}
	return nil
}
