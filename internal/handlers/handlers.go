package handlers

import (
	"context"
	"net/http"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hoopmetrics/learning-engine/internal/learn"
	"github.com/hoopmetrics/learning-engine/internal/models"
	"github.com/hoopmetrics/learning-engine/internal/worker"
)

// MaxBodySize limits the size of request bodies to 1MB
const MaxBodySize = 1048576

// TrainingEngine is the slice of the orchestrator the HTTP layer needs.
type TrainingEngine interface {
	Start(ctx context.Context, opts worker.StartOptions) (*models.RunSummary, error)
	Stop()
	State() worker.State
	GetTrainingStats() models.TrainingStats
	PredictGame(ctx context.Context, homeTeamID, awayTeamID string, gameCtx models.GameContextVector) (models.EventProbabilityVector, error)
}

// Reporter exposes the performance monitor's report generation.
type Reporter interface {
	GeneratePerformanceReport(opts learn.ReportOptions) learn.Report
}

type Config struct {
	Engine     TrainingEngine
	Reporter   Reporter
	Postgres   *pgxpool.Pool
	ClickHouse driver.Conn
	Redis      *redis.Client
	Logger     *zap.Logger

	AllowedOrigins []string
}

type Handler struct {
	engine    TrainingEngine
	reporter  Reporter
	pg        *pgxpool.Pool
	ch        driver.Conn
	redis     *redis.Client
	logger    *zap.SugaredLogger
	validator *validator.Validate

	origins []string

	lastRun lastRunHolder
}

func New(cfg Config) *Handler {
	return &Handler{
		engine:    cfg.Engine,
		reporter:  cfg.Reporter,
		pg:        cfg.Postgres,
		ch:        cfg.ClickHouse,
		redis:     cfg.Redis,
		logger:    cfg.Logger.Sugar(),
		validator: validator.New(),
		origins:   cfg.AllowedOrigins,
	}
}

// Router builds the full HTTP surface.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/training", func(r chi.Router) {
			r.Post("/start", h.StartTraining)
			r.Post("/stop", h.StopTraining)
			r.Get("/stats", h.TrainingStats)
			r.Get("/report", h.PerformanceReport)
			r.Get("/runs/last", h.LastRun)
		})
		r.Post("/predict", h.PredictGame)
	})
	return r
}
