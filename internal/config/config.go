package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port int
	Env  string

	// CORS
	AllowedOrigins []string

	// Database URLs
	PostgresURL   string
	ClickHouseURL string
	RedisURL      string

	// Caching
	PosteriorCacheTTL time.Duration

	// Checkpoint retention
	WeightsKeepLast int

	Encoder   EncoderConfig
	Predictor PredictorConfig
	Feedback  FeedbackConfig
	Belief    BeliefConfig
	Monitor   MonitorConfig
	Loop      LoopConfig
}

// EncoderConfig holds the latent encoder hyperparameters.
type EncoderConfig struct {
	HiddenSize             int
	LearningRate           float64
	GradClip               float64
	BetaMax                float64
	BetaWarmupSteps        int64
	Contrastive            bool
	ContrastiveMin         float64
	ContrastiveMax         float64
	ContrastiveWarmupSteps int64
	ContrastiveQueueSize   int
	NegativeSamples        int
	Temperature            float64
	Seed                   uint64
}

// PredictorConfig holds the event predictor hyperparameters.
type PredictorConfig struct {
	HiddenSize   int
	LearningRate float64
	GradClip     float64
	Seed         uint64
}

// FeedbackConfig tunes the predictor-to-encoder feedback gate.
type FeedbackConfig struct {
	Threshold    float64
	InitialAlpha float64
	DecayRate    float64
	MinAlpha     float64
	WindowSize   int
}

// BeliefConfig tunes the Bayesian team posterior updates.
type BeliefConfig struct {
	LearningRate   float64
	MinUncertainty float64
	InitialSigma   float64
	StaleSigma     float64
	MaxDeltaMu     float64
	MaxDeltaSigma  float64
	ErrorGainCap   float64
	Seed           uint64
}

// MonitorConfig bounds the performance monitor.
type MonitorConfig struct {
	WindowSize      int
	FeedbackRateMin float64
	FeedbackRateMax float64
	TrendTolerance  float64
	MaxAlerts       int
}

// LoopConfig tunes the orchestrator.
type LoopConfig struct {
	FetchBatchSize     int
	MaxRetries         int
	ContinueOnError    bool
	SaveInterval       int
	ValidationInterval int
	ValidationGames    int
	RecentGameWindow   time.Duration
	PersistRetries     int
	PersistBackoff     time.Duration
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Env:  getEnv("ENV", "development"),

		PosteriorCacheTTL: getEnvDuration("POSTERIOR_CACHE_TTL", 10*time.Minute),
		WeightsKeepLast:   getEnvInt("WEIGHTS_KEEP_LAST", 5),

		Encoder: EncoderConfig{
			HiddenSize:             getEnvInt("ENCODER_HIDDEN_SIZE", 48),
			LearningRate:           getEnvFloat("ENCODER_LEARNING_RATE", 0.001),
			GradClip:               getEnvFloat("ENCODER_GRAD_CLIP", 5.0),
			BetaMax:                getEnvFloat("ENCODER_BETA_MAX", 1.0),
			BetaWarmupSteps:        int64(getEnvInt("ENCODER_BETA_WARMUP_STEPS", 2000)),
			Contrastive:            getEnvBool("ENCODER_CONTRASTIVE", true),
			ContrastiveMin:         getEnvFloat("ENCODER_CONTRASTIVE_MIN", 0.0),
			ContrastiveMax:         getEnvFloat("ENCODER_CONTRASTIVE_MAX", 0.1),
			ContrastiveWarmupSteps: int64(getEnvInt("ENCODER_CONTRASTIVE_WARMUP_STEPS", 4000)),
			ContrastiveQueueSize:   getEnvInt("ENCODER_CONTRASTIVE_QUEUE_SIZE", 256),
			NegativeSamples:        getEnvInt("ENCODER_NEGATIVE_SAMPLES", 16),
			Temperature:            getEnvFloat("ENCODER_CONTRASTIVE_TEMPERATURE", 0.1),
			Seed:                   uint64(getEnvInt("ENCODER_SEED", 42)),
		},
		Predictor: PredictorConfig{
			HiddenSize:   getEnvInt("PREDICTOR_HIDDEN_SIZE", 64),
			LearningRate: getEnvFloat("PREDICTOR_LEARNING_RATE", 0.001),
			GradClip:     getEnvFloat("PREDICTOR_GRAD_CLIP", 5.0),
			Seed:         uint64(getEnvInt("PREDICTOR_SEED", 43)),
		},
		Feedback: FeedbackConfig{
			Threshold:    getEnvFloat("FEEDBACK_THRESHOLD", 1.5),
			InitialAlpha: getEnvFloat("FEEDBACK_INITIAL_ALPHA", 0.1),
			DecayRate:    getEnvFloat("FEEDBACK_DECAY_RATE", 0.995),
			MinAlpha:     getEnvFloat("FEEDBACK_MIN_ALPHA", 0.001),
			WindowSize:   getEnvInt("FEEDBACK_WINDOW_SIZE", 100),
		},
		Belief: BeliefConfig{
			LearningRate:   getEnvFloat("BELIEF_LEARNING_RATE", 0.05),
			MinUncertainty: getEnvFloat("BELIEF_MIN_UNCERTAINTY", 0.01),
			InitialSigma:   getEnvFloat("BELIEF_INITIAL_SIGMA", 1.0),
			StaleSigma:     getEnvFloat("BELIEF_STALE_SIGMA", 1.5),
			MaxDeltaMu:     getEnvFloat("BELIEF_MAX_DELTA_MU", 0.5),
			MaxDeltaSigma:  getEnvFloat("BELIEF_MAX_DELTA_SIGMA", 0.25),
			ErrorGainCap:   getEnvFloat("BELIEF_ERROR_GAIN_CAP", 2.0),
			Seed:           uint64(getEnvInt("BELIEF_SEED", 44)),
		},
		Monitor: MonitorConfig{
			WindowSize:      getEnvInt("MONITOR_WINDOW_SIZE", 50),
			FeedbackRateMin: getEnvFloat("MONITOR_FEEDBACK_RATE_MIN", 0.01),
			FeedbackRateMax: getEnvFloat("MONITOR_FEEDBACK_RATE_MAX", 0.8),
			TrendTolerance:  getEnvFloat("MONITOR_TREND_TOLERANCE", 0.05),
			MaxAlerts:       getEnvInt("MONITOR_MAX_ALERTS", 100),
		},
		Loop: LoopConfig{
			FetchBatchSize:     getEnvInt("LOOP_FETCH_BATCH_SIZE", 200),
			MaxRetries:         getEnvInt("LOOP_MAX_RETRIES", 2),
			ContinueOnError:    getEnvBool("LOOP_CONTINUE_ON_ERROR", true),
			SaveInterval:       getEnvInt("LOOP_SAVE_INTERVAL", 100),
			ValidationInterval: getEnvInt("LOOP_VALIDATION_INTERVAL", 500),
			ValidationGames:    getEnvInt("LOOP_VALIDATION_GAMES", 100),
			RecentGameWindow:   getEnvDuration("LOOP_RECENT_GAME_WINDOW", 120*24*time.Hour),
			PersistRetries:     getEnvInt("LOOP_PERSIST_RETRIES", 3),
			PersistBackoff:     getEnvDuration("LOOP_PERSIST_BACKOFF", 200*time.Millisecond),
		},
	}

	// CORS
	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	rawOrigins := strings.Split(origins, ",")
	for _, o := range rawOrigins {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	// Critical configuration - fail if missing
	var err error
	if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
		return nil, err
	}
	if cfg.ClickHouseURL, err = getEnvRequired("CLICKHOUSE_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = getEnvRequired("REDIS_URL"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
