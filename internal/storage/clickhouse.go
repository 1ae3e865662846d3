package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hoopmetrics/learning-engine/internal/learn"
	"github.com/hoopmetrics/learning-engine/internal/models"
)

// ArchiveFeatureSource derives per-game feature and ground-truth vectors
// from the ClickHouse game archive. The two teams' box scores are fetched
// in parallel; everything downstream of extraction is strictly sequential.
type ArchiveFeatureSource struct {
	ch     driver.Conn
	logger *zap.SugaredLogger
}

func NewArchiveFeatureSource(ch driver.Conn, logger *zap.Logger) *ArchiveFeatureSource {
	return &ArchiveFeatureSource{ch: ch, logger: logger.Sugar()}
}

func (s *ArchiveFeatureSource) ExtractFeatures(ctx context.Context, game models.GameRecord) (*models.GameFeatures, error) {
	var homeBox, awayBox *models.TeamBoxScore

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		homeBox, err = s.loadBoxScore(gctx, game, game.HomeTeamID)
		return err
	})
	g.Go(func() error {
		var err error
		awayBox, err = s.loadBoxScore(gctx, game, game.AwayTeamID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	neutral, postseason, err := s.loadMeta(ctx, game)
	if err != nil {
		return nil, err
	}

	feats := &models.GameFeatures{Context: models.NewGameContext(neutral, postseason)}
	if feats.Home, err = learn.EncodeFeatures(homeBox); err != nil {
		return nil, fmt.Errorf("encoding home features for %s: %w", game.GameID, err)
	}
	if feats.Away, err = learn.EncodeFeatures(awayBox); err != nil {
		return nil, fmt.Errorf("encoding away features for %s: %w", game.GameID, err)
	}
	if feats.HomeEvents, err = learn.EncodeEventProbabilities(homeBox.Tallies()); err != nil {
		return nil, fmt.Errorf("encoding home events for %s: %w", game.GameID, err)
	}
	if feats.AwayEvents, err = learn.EncodeEventProbabilities(awayBox.Tallies()); err != nil {
		return nil, fmt.Errorf("encoding away events for %s: %w", game.GameID, err)
	}
	if err := feats.Validate(); err != nil {
		return nil, fmt.Errorf("%w: game %s: %v", learn.ErrData, game.GameID, err)
	}
	return feats, nil
}

func (s *ArchiveFeatureSource) loadBoxScore(ctx context.Context, game models.GameRecord, teamID string) (*models.TeamBoxScore, error) {
	rows, err := s.ch.Query(ctx, `
		SELECT quarter, fg2m, fg2a, fg3m, fg3a, ftm, fta,
		       oreb, dreb, ast, stl, blk, tov, pf, pts, poss
		FROM hoop_stats.team_quarters
		WHERE game_id = ? AND team_id = ?
		ORDER BY quarter ASC
	`, game.GameID, teamID)
	if err != nil {
		return nil, fmt.Errorf("querying box score for game %s team %s: %w", game.GameID, teamID, err)
	}
	defer rows.Close()

	box := &models.TeamBoxScore{GameID: game.GameID.String(), TeamID: teamID}
	seen := 0
	for rows.Next() {
		var quarter uint8
		var q models.QuarterLine
		if err := rows.Scan(&quarter, &q.TwoPtMade, &q.TwoPtAtt, &q.ThreePtMade, &q.ThreePtAtt,
			&q.FTMade, &q.FTAtt, &q.OffReb, &q.DefReb, &q.Assists,
			&q.Steals, &q.Blocks, &q.Turnovers, &q.Fouls, &q.Points, &q.Possessions); err != nil {
			return nil, fmt.Errorf("%w: scanning quarter for game %s team %s: %v", learn.ErrData, game.GameID, teamID, err)
		}
		if quarter < 1 || quarter > models.QuartersPerGame {
			return nil, fmt.Errorf("%w: game %s team %s has quarter %d", learn.ErrData, game.GameID, teamID, quarter)
		}
		box.Quarters[quarter-1] = q
		seen++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if seen != models.QuartersPerGame {
		return nil, fmt.Errorf("%w: game %s team %s has %d quarter lines, want %d",
			learn.ErrData, game.GameID, teamID, seen, models.QuartersPerGame)
	}
	return box, nil
}

func (s *ArchiveFeatureSource) loadMeta(ctx context.Context, game models.GameRecord) (neutral, postseason bool, err error) {
	var n, p uint8
	row := s.ch.QueryRow(ctx, `
		SELECT neutral_site, postseason FROM hoop_stats.game_meta WHERE game_id = ?
	`, game.GameID)
	if err := row.Scan(&n, &p); err != nil {
		// Meta is optional; missing rows mean a regular home game.
		s.logger.Debugw("no game meta, assuming regular home game", "game_id", game.GameID, "error", err)
		return false, false, nil
	}
	return n == 1, p == 1, nil
}
