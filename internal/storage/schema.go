package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Postgres owns the mutable learning state; ClickHouse holds the immutable
// game archive the features are derived from.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id            UUID PRIMARY KEY,
		game_date     DATE NOT NULL,
		home_team_id  TEXT NOT NULL,
		away_team_id  TEXT NOT NULL,
		processed     BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_games_pending ON games (game_date, id) WHERE NOT processed`,
	`CREATE TABLE IF NOT EXISTS team_posteriors (
		team_id          TEXT PRIMARY KEY,
		mu               DOUBLE PRECISION[] NOT NULL,
		sigma            DOUBLE PRECISION[] NOT NULL,
		games_processed  INTEGER NOT NULL DEFAULT 0,
		last_updated     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS model_weights (
		model_name  TEXT NOT NULL,
		step        BIGINT NOT NULL,
		data        BYTEA NOT NULL,
		saved_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (model_name, step)
	)`,
	`CREATE TABLE IF NOT EXISTS feedback_state (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		step           BIGINT NOT NULL,
		current_alpha  DOUBLE PRECISION NOT NULL
	)`,
}

var clickhouseSchema = []string{
	`CREATE DATABASE IF NOT EXISTS hoop_stats`,
	`CREATE TABLE IF NOT EXISTS hoop_stats.team_quarters (
		game_id  UUID,
		team_id  String,
		quarter  UInt8,
		fg2m     Float64,
		fg2a     Float64,
		fg3m     Float64,
		fg3a     Float64,
		ftm      Float64,
		fta      Float64,
		oreb     Float64,
		dreb     Float64,
		ast      Float64,
		stl      Float64,
		blk      Float64,
		tov      Float64,
		pf       Float64,
		pts      Float64,
		poss     Float64
	) ENGINE = MergeTree()
	ORDER BY (game_id, team_id, quarter)`,
	`CREATE TABLE IF NOT EXISTS hoop_stats.game_meta (
		game_id       UUID,
		neutral_site  UInt8,
		postseason    UInt8
	) ENGINE = MergeTree()
	ORDER BY game_id`,
}

// EnsureSchema creates the tables both stores rely on. Idempotent.
func EnsureSchema(ctx context.Context, pg PgPool, ch driver.Conn) error {
	for _, stmt := range postgresSchema {
		if _, err := pg.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	for _, stmt := range clickhouseSchema {
		if err := ch.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return nil
}
