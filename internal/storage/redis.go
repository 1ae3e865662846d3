package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

const posteriorKeyPrefix = "posterior:team:"

// CachedPosteriorStore is a Redis read-through cache in front of the
// Postgres posterior store. Cache failures degrade to the inner store;
// they never fail a read or write.
type CachedPosteriorStore struct {
	inner  PosteriorStore
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewCachedPosteriorStore(inner PosteriorStore, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedPosteriorStore {
	return &CachedPosteriorStore{inner: inner, rdb: rdb, ttl: ttl, logger: logger.Sugar()}
}

func (c *CachedPosteriorStore) GetTeamPosterior(ctx context.Context, teamID string) (*models.TeamPosterior, error) {
	key := posteriorKeyPrefix + teamID
	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var p models.TeamPosterior
		if json.Unmarshal(data, &p) == nil && p.Validate() == nil {
			return &p, nil
		}
		// Corrupt cache entry; fall through to the source of truth.
		c.rdb.Del(ctx, key)
	}

	p, err := c.inner.GetTeamPosterior(ctx, teamID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, p)
	return p, nil
}

func (c *CachedPosteriorStore) SaveTeamPosterior(ctx context.Context, p *models.TeamPosterior) error {
	if err := c.inner.SaveTeamPosterior(ctx, p); err != nil {
		return err
	}
	c.fill(ctx, posteriorKeyPrefix+p.TeamID, p)
	return nil
}

func (c *CachedPosteriorStore) fill(ctx context.Context, key string, p *models.TeamPosterior) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warnw("posterior cache write failed", "key", key, "error", err)
	}
}

// RunStatus publishes live training-run state to Redis for dashboards.
type RunStatus struct {
	rdb    *redis.Client
	logger *zap.SugaredLogger
}

func NewRunStatus(rdb *redis.Client, logger *zap.Logger) *RunStatus {
	return &RunStatus{rdb: rdb, logger: logger.Sugar()}
}

// Update writes the current run's progress. Best effort: a Redis outage
// must never slow down or fail the loop.
func (r *RunStatus) Update(ctx context.Context, runID string, processed, total int, lastGameID string) {
	err := r.rdb.HSet(ctx, "training:current",
		"run_id", runID,
		"processed", processed,
		"total", total,
		"last_game_id", lastGameID,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		r.logger.Debugw("run status update failed", "error", err)
	}
}

// Clear removes the live status once a run finishes.
func (r *RunStatus) Clear(ctx context.Context) {
	if err := r.rdb.Del(ctx, "training:current").Err(); err != nil {
		r.logger.Debugw("run status clear failed", "error", err)
	}
}
