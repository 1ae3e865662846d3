package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hoopmetrics/learning-engine/internal/config"
	"github.com/hoopmetrics/learning-engine/internal/handlers"
	"github.com/hoopmetrics/learning-engine/internal/learn"
	"github.com/hoopmetrics/learning-engine/internal/storage"
	"github.com/hoopmetrics/learning-engine/internal/worker"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		sugar.Fatalw("engine exited", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	pg, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}

	chOpts, err := clickhouse.ParseDSN(cfg.ClickHouseURL)
	if err != nil {
		return fmt.Errorf("parsing clickhouse url: %w", err)
	}
	ch, err := clickhouse.Open(chOpts)
	if err != nil {
		return fmt.Errorf("connecting to clickhouse: %w", err)
	}
	defer ch.Close()
	if err := ch.Ping(ctx); err != nil {
		return fmt.Errorf("pinging clickhouse: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}

	if err := storage.EnsureSchema(ctx, pg, ch); err != nil {
		return err
	}

	// Learning components.
	encoder, err := learn.NewEncoder(learn.EncoderConfig{
		HiddenSize:             cfg.Encoder.HiddenSize,
		LearningRate:           cfg.Encoder.LearningRate,
		GradClip:               cfg.Encoder.GradClip,
		BetaMax:                cfg.Encoder.BetaMax,
		BetaWarmupSteps:        cfg.Encoder.BetaWarmupSteps,
		Contrastive:            cfg.Encoder.Contrastive,
		ContrastiveMin:         cfg.Encoder.ContrastiveMin,
		ContrastiveMax:         cfg.Encoder.ContrastiveMax,
		ContrastiveWarmupSteps: cfg.Encoder.ContrastiveWarmupSteps,
		ContrastiveQueueSize:   cfg.Encoder.ContrastiveQueueSize,
		NegativeSamples:        cfg.Encoder.NegativeSamples,
		Temperature:            cfg.Encoder.Temperature,
		Seed:                   cfg.Encoder.Seed,
	})
	if err != nil {
		return err
	}

	predictor, err := learn.NewPredictor(learn.PredictorConfig{
		HiddenSize:   cfg.Predictor.HiddenSize,
		LearningRate: cfg.Predictor.LearningRate,
		GradClip:     cfg.Predictor.GradClip,
		Seed:         cfg.Predictor.Seed,
	})
	if err != nil {
		return err
	}

	coordinator, err := learn.NewCoordinator(learn.FeedbackConfig{
		Threshold:    cfg.Feedback.Threshold,
		InitialAlpha: cfg.Feedback.InitialAlpha,
		DecayRate:    cfg.Feedback.DecayRate,
		MinAlpha:     cfg.Feedback.MinAlpha,
		WindowSize:   cfg.Feedback.WindowSize,
	}, encoder, logger)
	if err != nil {
		return err
	}

	beliefs, err := learn.NewBeliefUpdater(learn.BeliefConfig{
		LearningRate:   cfg.Belief.LearningRate,
		MinUncertainty: cfg.Belief.MinUncertainty,
		InitialSigma:   cfg.Belief.InitialSigma,
		StaleSigma:     cfg.Belief.StaleSigma,
		MaxDeltaMu:     cfg.Belief.MaxDeltaMu,
		MaxDeltaSigma:  cfg.Belief.MaxDeltaSigma,
		ErrorGainCap:   cfg.Belief.ErrorGainCap,
		Seed:           cfg.Belief.Seed,
	}, logger)
	if err != nil {
		return err
	}

	monitor, err := learn.NewMonitor(learn.MonitorConfig{
		WindowSize:      cfg.Monitor.WindowSize,
		FeedbackRateMin: cfg.Monitor.FeedbackRateMin,
		FeedbackRateMax: cfg.Monitor.FeedbackRateMax,
		TrendTolerance:  cfg.Monitor.TrendTolerance,
		MaxAlerts:       cfg.Monitor.MaxAlerts,
	}, logger)
	if err != nil {
		return err
	}
	monitor.RegisterAlertCallback(func(a learn.Alert) {
		sugar.Warnw("learning alert", "code", a.Code, "severity", a.Severity, "team_id", a.TeamID, "message", a.Message)
	})

	// Storage.
	store := storage.NewStore(pg, cfg.WeightsKeepLast, logger)
	features := storage.NewArchiveFeatureSource(ch, logger)
	posteriors := storage.NewCachedPosteriorStore(store, rdb, cfg.PosteriorCacheTTL, logger)
	status := storage.NewRunStatus(rdb, logger)

	orchestrator, err := worker.New(worker.Config{
		FetchBatchSize:     cfg.Loop.FetchBatchSize,
		MaxRetries:         cfg.Loop.MaxRetries,
		ContinueOnError:    cfg.Loop.ContinueOnError,
		SaveInterval:       cfg.Loop.SaveInterval,
		ValidationInterval: cfg.Loop.ValidationInterval,
		ValidationGames:    cfg.Loop.ValidationGames,
		RecentGameWindow:   cfg.Loop.RecentGameWindow,
		PersistRetries:     cfg.Loop.PersistRetries,
		PersistBackoff:     cfg.Loop.PersistBackoff,
	}, worker.Deps{
		Games:       store,
		Features:    features,
		Posteriors:  posteriors,
		Weights:     store,
		Feedback:    store,
		Encoder:     encoder,
		Predictor:   predictor,
		Coordinator: coordinator,
		Beliefs:     beliefs,
		Monitor:     monitor,
		Status:      status,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := orchestrator.Resume(ctx); err != nil {
		return fmt.Errorf("resuming model state: %w", err)
	}

	h := handlers.New(handlers.Config{
		Engine:         orchestrator,
		Reporter:       monitor,
		Postgres:       pg,
		ClickHouse:     ch,
		Redis:          rdb,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("http server listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")
		orchestrator.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
