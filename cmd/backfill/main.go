// Command backfill seeds the game queue and archive with a synthetic
// season so the engine can be exercised without a real data feed. Each
// team gets a hidden quality level; box scores are drawn around it so the
// learner has real structure to find.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hoopmetrics/learning-engine/internal/config"
	"github.com/hoopmetrics/learning-engine/internal/models"
	"github.com/hoopmetrics/learning-engine/internal/storage"
)

func main() {
	_ = godotenv.Load()

	teams := flag.Int("teams", 12, "number of synthetic teams")
	rounds := flag.Int("rounds", 10, "number of full round-robins to generate")
	seed := flag.Uint64("seed", 7, "rng seed")
	start := flag.String("start", "2025-11-01", "first game date (YYYY-MM-DD)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		sugar.Fatalw("invalid start date", "error", err)
	}

	ctx := context.Background()
	pg, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		sugar.Fatalw("postgres connect failed", "error", err)
	}
	defer pg.Close()

	chOpts, err := clickhouse.ParseDSN(cfg.ClickHouseURL)
	if err != nil {
		sugar.Fatalw("invalid clickhouse url", "error", err)
	}
	ch, err := clickhouse.Open(chOpts)
	if err != nil {
		sugar.Fatalw("clickhouse connect failed", "error", err)
	}
	defer ch.Close()

	if err := storage.EnsureSchema(ctx, pg, ch); err != nil {
		sugar.Fatalw("schema setup failed", "error", err)
	}

	src := rand.NewSource(*seed)
	rng := rand.New(src)
	quality := make([]float64, *teams)
	qdist := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	for i := range quality {
		quality[i] = qdist.Rand()
	}

	store := storage.NewStore(pg, cfg.WeightsKeepLast, logger)
	batch, err := ch.PrepareBatch(ctx, `INSERT INTO hoop_stats.team_quarters`)
	if err != nil {
		sugar.Fatalw("preparing archive batch", "error", err)
	}

	date := startDate
	var inserted int
	for round := 0; round < *rounds; round++ {
		for home := 0; home < *teams; home++ {
			for away := 0; away < *teams; away++ {
				if home == away {
					continue
				}
				game := models.GameRecord{
					GameID:     uuid.New(),
					GameDate:   date,
					HomeTeamID: teamID(home),
					AwayTeamID: teamID(away),
				}
				if err := store.InsertGame(ctx, game); err != nil {
					sugar.Fatalw("inserting game", "game_id", game.GameID, "error", err)
				}
				if err := appendBoxScore(batch, game.GameID, teamID(home), quality[home]+0.3, src); err != nil {
					sugar.Fatalw("appending home box score", "error", err)
				}
				if err := appendBoxScore(batch, game.GameID, teamID(away), quality[away], src); err != nil {
					sugar.Fatalw("appending away box score", "error", err)
				}
				inserted++
				if rng.Intn(3) == 0 {
					date = date.AddDate(0, 0, 1)
				}
			}
		}
	}
	if err := batch.Send(); err != nil {
		sugar.Fatalw("sending archive batch", "error", err)
	}

	sugar.Infow("backfill complete", "games", inserted, "teams", *teams, "last_date", date.Format("2006-01-02"))
}

func teamID(i int) string {
	return fmt.Sprintf("team-%03d", i)
}

// appendBoxScore draws four quarters of counting stats around the team's
// hidden quality. Attempt counts are Poisson, makes are binomial-ish via
// per-attempt draws, so the derived rates carry the quality signal.
func appendBoxScore(batch driver.Batch, gameID uuid.UUID, teamID string, quality float64, src rand.Source) error {
	rng := rand.New(src)
	for q := 1; q <= models.QuartersPerGame; q++ {
		fg2a := poisson(src, 12)
		fg3a := poisson(src, 8)
		fta := poisson(src, 5)
		fg2m := binomial(rng, fg2a, clampProb(0.48+0.05*quality))
		fg3m := binomial(rng, fg3a, clampProb(0.34+0.04*quality))
		ftm := binomial(rng, fta, clampProb(0.75+0.03*quality))
		oreb := poisson(src, 3)
		dreb := poisson(src, 7)
		ast := poisson(src, 5+quality)
		stl := poisson(src, 2)
		blk := poisson(src, 1)
		tov := poisson(src, 4-0.5*quality)
		pf := poisson(src, 4)
		pts := 2*fg2m + 3*fg3m + ftm
		poss := fg2a + fg3a + 0.44*fta + tov

		if err := batch.Append(
			gameID, teamID, uint8(q),
			fg2m, fg2a, fg3m, fg3a, ftm, fta,
			oreb, dreb, ast, stl, blk, tov, pf, pts, poss,
		); err != nil {
			return err
		}
	}
	return nil
}

func poisson(src rand.Source, lambda float64) float64 {
	if lambda < 0.5 {
		lambda = 0.5
	}
	return distuv.Poisson{Lambda: lambda, Src: src}.Rand()
}

func binomial(rng *rand.Rand, attempts, p float64) float64 {
	var made float64
	for i := 0; i < int(attempts); i++ {
		if rng.Float64() < p {
			made++
		}
	}
	return made
}

func clampProb(p float64) float64 {
	if p < 0.05 {
		return 0.05
	}
	if p > 0.95 {
		return 0.95
	}
	return p
}
