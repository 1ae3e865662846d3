// Package worker implements the online-learning orchestrator: a strictly
// sequential loop that pulls games in chronological order, trains the
// encoder and predictor, updates team posteriors, and owns every mutation
// of model state. Games are processed one at a time because a team's belief
// for game N must be visible before game N+1 is evaluated.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hoopmetrics/learning-engine/internal/learn"
	"github.com/hoopmetrics/learning-engine/internal/models"
	"github.com/hoopmetrics/learning-engine/internal/storage"
)

// Prometheus metrics
var (
	gamesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoop_games_processed_total",
		Help: "Total number of games successfully processed by the learning loop",
	})

	gamesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoop_games_failed_total",
		Help: "Total number of games that failed processing",
	})

	feedbackFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoop_feedback_triggered_total",
		Help: "Total number of encoder feedback applications",
	})

	nnLossGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hoop_nn_loss",
		Help: "Cross-entropy loss of the most recent predictor update",
	})

	vaeLossGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hoop_vae_loss",
		Help: "Total VAE loss of the most recent encoder update",
	})

	alphaGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hoop_feedback_alpha",
		Help: "Current feedback coefficient",
	})

	gameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hoop_game_processing_duration_seconds",
		Help:    "Duration of one full per-game learning step",
		Buckets: prometheus.DefBuckets,
	})
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Config tunes the loop. Validate rejects out-of-range values at
// construction.
type Config struct {
	FetchBatchSize     int           // games fetched per queue query, > 0
	MaxRetries         int           // per-game retries before recording failure, >= 0
	ContinueOnError    bool          // advance past failed games instead of failing the run
	SaveInterval       int           // checkpoint weights every N successful games, > 0
	ValidationInterval int           // run a held-out validation pass every N games, > 0
	ValidationGames    int           // ring buffer size for validation samples, > 0
	RecentGameWindow   time.Duration // lookback deciding inter-season sigma inflation, > 0
	PersistRetries     int           // storage retry attempts, >= 1
	PersistBackoff     time.Duration // base backoff between storage retries, > 0
}

func (c *Config) Validate() error {
	if c.FetchBatchSize <= 0 {
		return fmt.Errorf("%w: fetch batch size must be positive, got %d", learn.ErrConfig, c.FetchBatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be non-negative, got %d", learn.ErrConfig, c.MaxRetries)
	}
	if c.SaveInterval <= 0 {
		return fmt.Errorf("%w: save interval must be positive, got %d", learn.ErrConfig, c.SaveInterval)
	}
	if c.ValidationInterval <= 0 {
		return fmt.Errorf("%w: validation interval must be positive, got %d", learn.ErrConfig, c.ValidationInterval)
	}
	if c.ValidationGames <= 0 {
		return fmt.Errorf("%w: validation games must be positive, got %d", learn.ErrConfig, c.ValidationGames)
	}
	if c.RecentGameWindow <= 0 {
		return fmt.Errorf("%w: recent game window must be positive, got %v", learn.ErrConfig, c.RecentGameWindow)
	}
	if c.PersistRetries < 1 {
		return fmt.Errorf("%w: persist retries must be at least 1, got %d", learn.ErrConfig, c.PersistRetries)
	}
	if c.PersistBackoff <= 0 {
		return fmt.Errorf("%w: persist backoff must be positive, got %v", learn.ErrConfig, c.PersistBackoff)
	}
	return nil
}

// Deps are the orchestrator's collaborators. Status may be nil.
type Deps struct {
	Games       storage.GameSource
	Features    storage.FeatureSource
	Posteriors  storage.PosteriorStore
	Weights     storage.WeightStore
	Feedback    storage.FeedbackStore
	Encoder     *learn.Encoder
	Predictor   *learn.Predictor
	Coordinator *learn.Coordinator
	Beliefs     *learn.BeliefUpdater
	Monitor     *learn.Monitor
	Status      *storage.RunStatus
	Logger      *zap.Logger
}

// StartOptions customize one training run. All callbacks are optional.
type StartOptions struct {
	MaxGames        int       // 0 means run until the queue is empty
	StartFromGameID uuid.UUID // skip pending games until this id is seen
	OnProgress      func(current, total int, result models.GameResult)
	OnGameComplete  func(result models.GameResult)
	OnError         func(err error, game models.GameRecord)
}

// validationSample is one processed game retained for held-out evaluation.
type validationSample struct {
	homeMu, homeSigma []float64
	awayMu, awaySigma []float64
	gameCtx           models.GameContextVector
	actual            models.EventProbabilityVector
}

// Orchestrator is the control loop. It is the only component permitted to
// mutate model weights, feedback state, team posteriors, and processed-game
// markers.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.SugaredLogger

	mu            sync.Mutex
	state         State
	stopRequested bool

	// processing watermark enforcing chronological causality across batches
	lastDate time.Time
	lastID   uuid.UUID

	// aggregate stats
	totalIterations  int64
	feedbackTriggers int64
	nnLossSum        float64
	nnLossCount      int64
	vaeLossSum       float64
	vaeLossCount     int64

	validation []validationSample
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Games == nil || deps.Features == nil || deps.Posteriors == nil ||
		deps.Weights == nil || deps.Feedback == nil || deps.Encoder == nil ||
		deps.Predictor == nil || deps.Coordinator == nil || deps.Beliefs == nil ||
		deps.Monitor == nil || deps.Logger == nil {
		return nil, fmt.Errorf("%w: orchestrator is missing a dependency", learn.ErrConfig)
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Sugar(),
	}, nil
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Resume restores model weights and feedback state from storage. Missing
// snapshots mean a fresh start and are not errors.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if snap, err := o.deps.Weights.LoadModelWeights(ctx, models.ModelLatentEncoder); err == nil {
		if err := o.deps.Encoder.Restore(snap.Data); err != nil {
			return fmt.Errorf("restoring encoder: %w", err)
		}
		o.logger.Infow("restored encoder weights", "step", snap.Step)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if snap, err := o.deps.Weights.LoadModelWeights(ctx, models.ModelEventPredictor); err == nil {
		if err := o.deps.Predictor.Restore(snap.Data); err != nil {
			return fmt.Errorf("restoring predictor: %w", err)
		}
		o.logger.Infow("restored predictor weights", "step", snap.Step)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if fs, err := o.deps.Feedback.LoadFeedbackState(ctx); err == nil {
		if err := o.deps.Coordinator.SetState(*fs); err != nil {
			return fmt.Errorf("restoring feedback state: %w", err)
		}
		o.logger.Infow("restored feedback state", "step", fs.Step, "alpha", fs.CurrentAlpha)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// Stop requests a cooperative halt. The in-flight game finishes; the loop
// stops before fetching the next one. No mid-game cancellation: an aborted
// mid-game update would leave posteriors inconsistent with the processed
// marker.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopRequested = true
	if o.state == StateRunning {
		o.state = StateStopping
	}
}

func (o *Orchestrator) stopPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopRequested
}

// Start runs the learning loop until the queue drains, maxGames is reached,
// or a stop is requested. A summary is returned even on partial failure so
// callers can re-invoke safely; already-processed games are never refetched.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (*models.RunSummary, error) {
	o.mu.Lock()
	if o.state == StateRunning || o.state == StateStopping {
		o.mu.Unlock()
		return nil, learn.ErrAlreadyRunning
	}
	o.state = StateRunning
	o.stopRequested = false
	o.mu.Unlock()

	summary := &models.RunSummary{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
	}
	var totalDuration time.Duration
	skipUntil := opts.StartFromGameID != uuid.Nil
	finalState := StateIdle

	defer func() {
		summary.FinishedAt = time.Now().UTC()
		if summary.TotalGamesProcessed > 0 {
			summary.SuccessRate = float64(summary.SuccessfulGames) / float64(summary.TotalGamesProcessed)
			summary.AverageProcessingTimeMs = float64(totalDuration.Milliseconds()) / float64(summary.TotalGamesProcessed)
		}
		if o.deps.Status != nil {
			o.deps.Status.Clear(context.Background())
		}
		o.mu.Lock()
		o.state = finalState
		o.mu.Unlock()
	}()

	o.logger.Infow("training run started", "run_id", summary.RunID, "max_games", opts.MaxGames)

run:
	for opts.MaxGames == 0 || summary.TotalGamesProcessed < opts.MaxGames {
		if o.stopPending() {
			o.logger.Infow("stop requested, halting before next fetch", "run_id", summary.RunID)
			break
		}

		limit := o.cfg.FetchBatchSize
		if opts.MaxGames > 0 {
			if remaining := opts.MaxGames - summary.TotalGamesProcessed; remaining < limit {
				limit = remaining
			}
		}
		batch, err := o.deps.Games.NextUnprocessedGames(ctx, limit)
		if err != nil {
			finalState = StateFailed
			return summary, fmt.Errorf("fetching game queue: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		// The queue's ORDER BY is not trusted: re-sort so pending games
		// are strictly chronological before any posterior is touched.
		sort.Slice(batch, func(i, j int) bool { return batch[i].Less(batch[j]) })

		for _, game := range batch {
			if o.stopPending() {
				break run
			}
			if skipUntil {
				if game.GameID != opts.StartFromGameID {
					continue
				}
				skipUntil = false
			}

			result, retries, err := o.processWithRetries(ctx, game)
			summary.TotalGamesProcessed++
			totalDuration += result.ProcessingTime

			if err != nil {
				summary.FailedGames++
				summary.Errors = append(summary.Errors, models.GameError{
					GameID:  game.GameID,
					Message: err.Error(),
					Retries: retries,
				})
				gamesFailed.Inc()
				if opts.OnError != nil {
					opts.OnError(err, game)
				}
				if !o.cfg.ContinueOnError {
					finalState = StateFailed
					return summary, fmt.Errorf("game %s failed: %w", game.GameID, err)
				}
				continue
			}

			summary.SuccessfulGames++
			gamesProcessed.Inc()
			if opts.OnGameComplete != nil {
				opts.OnGameComplete(result)
			}
			if opts.OnProgress != nil {
				opts.OnProgress(summary.TotalGamesProcessed, opts.MaxGames, result)
			}
			if o.deps.Status != nil {
				o.deps.Status.Update(ctx, summary.RunID.String(), summary.TotalGamesProcessed, opts.MaxGames, game.GameID.String())
			}

			if summary.SuccessfulGames%o.cfg.SaveInterval == 0 {
				if err := o.Checkpoint(ctx); err != nil {
					o.logger.Errorw("checkpoint failed", "error", err)
				}
			}
			if summary.SuccessfulGames%o.cfg.ValidationInterval == 0 {
				o.runValidation()
			}
		}

		// Skipped games are never marked processed, so if the start game was
		// not in this batch the next fetch returns the identical batch and the
		// loop would spin forever. Fail the run instead.
		if skipUntil {
			finalState = StateFailed
			return summary, fmt.Errorf("%w: start game %s not found in the next %d pending games",
				learn.ErrData, opts.StartFromGameID, len(batch))
		}
	}

	o.logger.Infow("training run finished",
		"run_id", summary.RunID,
		"processed", summary.TotalGamesProcessed,
		"successful", summary.SuccessfulGames,
		"failed", summary.FailedGames,
	)
	return summary, nil
}

// processWithRetries applies the per-game error boundary: data and numeric
// errors are deterministic and never retried; anything else (transient
// storage, network) is retried up to MaxRetries.
//
// A retry re-runs the whole pipeline, so a failure after a partial persist
// trains the encoder and predictor a second time on the same game. The
// posterior writes themselves are upserts and stay consistent; the extra
// gradient step is accepted rather than checkpointing mid-game.
func (o *Orchestrator) processWithRetries(ctx context.Context, game models.GameRecord) (models.GameResult, int, error) {
	var result models.GameResult
	var err error
	for attempt := 0; ; attempt++ {
		result, err = o.processGame(ctx, game)
		if err == nil {
			return result, attempt, nil
		}
		if errors.Is(err, learn.ErrData) || errors.Is(err, learn.ErrNumericInstability) ||
			errors.Is(err, learn.ErrPosteriorUnavailable) {
			result.Err = err.Error()
			return result, attempt, err
		}
		if attempt >= o.cfg.MaxRetries {
			result.Err = err.Error()
			return result, attempt, err
		}
		o.logger.Warnw("retrying game", "game_id", game.GameID, "attempt", attempt+1, "error", err)
	}
}

// processGame runs the full per-game pipeline:
// Extract -> Encode -> Predict -> ComputeLoss -> (Feedback?) ->
// PosteriorUpdate -> Persist -> MarkProcessed.
func (o *Orchestrator) processGame(ctx context.Context, game models.GameRecord) (models.GameResult, error) {
	start := time.Now()
	result := models.GameResult{GameID: game.GameID}
	defer func() {
		result.ProcessingTime = time.Since(start)
		gameDuration.Observe(result.ProcessingTime.Seconds())
	}()

	// Temporal causality: never evaluate a game older than the watermark.
	if !o.lastDate.IsZero() {
		prev := models.GameRecord{GameID: o.lastID, GameDate: o.lastDate}
		if game.Less(prev) {
			return result, fmt.Errorf("%w: game %s (%s) precedes already-processed %s (%s)",
				learn.ErrData, game.GameID, game.GameDate.Format("2006-01-02"), o.lastID, o.lastDate.Format("2006-01-02"))
		}
	}

	// Extract.
	feats, err := o.deps.Features.ExtractFeatures(ctx, game)
	if err != nil {
		return result, err
	}

	// Encode + VAE training update, one per team per game.
	homeVAE, err := o.deps.Encoder.Train(feats.Home, feats.HomeEvents)
	if err != nil {
		return result, err
	}
	awayVAE, err := o.deps.Encoder.Train(feats.Away, feats.AwayEvents)
	if err != nil {
		return result, err
	}
	result.VAELoss = (homeVAE.Total + awayVAE.Total) / 2

	homeLat, err := o.deps.Encoder.Encode(feats.Home)
	if err != nil {
		return result, err
	}
	awayLat, err := o.deps.Encoder.Encode(feats.Away)
	if err != nil {
		return result, err
	}

	// Team posteriors, created on first encounter.
	homePost, err := o.loadOrInitPosterior(ctx, game.HomeTeamID, game.GameDate)
	if err != nil {
		return result, err
	}
	awayPost, err := o.loadOrInitPosterior(ctx, game.AwayTeamID, game.GameDate)
	if err != nil {
		return result, err
	}

	// Predict + ComputeLoss from the fixed home perspective.
	nnLoss, err := o.deps.Predictor.Train(
		homePost.Mu, homePost.Sigma, awayPost.Mu, awayPost.Sigma,
		feats.Context, feats.HomeEvents,
	)
	if err != nil {
		return result, err
	}
	result.NNLoss = nnLoss

	// Conditionally push predictor error into the encoder.
	gHomeMu, gHomeSigma, gAwayMu, gAwaySigma := o.deps.Predictor.LatentGradients()
	alphaUsed, fired, err := o.deps.Coordinator.Apply(nnLoss,
		learn.FeedbackEvidence{Features: feats.Home, Latent: homeLat, GradMu: gHomeMu, GradSigma: gHomeSigma},
		learn.FeedbackEvidence{Features: feats.Away, Latent: awayLat, GradMu: gAwayMu, GradSigma: gAwaySigma},
	)
	if err != nil {
		return result, err
	}
	result.FeedbackTriggered = fired
	result.AlphaUsed = alphaUsed
	if fired {
		feedbackFired.Inc()
	}

	// Posterior updates, exactly once per team per game.
	newHome, err := o.deps.Beliefs.Update(homePost, homeLat, feats.Context, nnLoss)
	if err != nil {
		return result, err
	}
	newAway, err := o.deps.Beliefs.Update(awayPost, awayLat, feats.Context, nnLoss)
	if err != nil {
		return result, err
	}

	// Persist. Failures here leave the game unmarked so the run resumes.
	if err := o.persistWithRetry(ctx, func(ctx context.Context) error {
		return o.deps.Posteriors.SaveTeamPosterior(ctx, newHome)
	}); err != nil {
		return result, err
	}
	if err := o.persistWithRetry(ctx, func(ctx context.Context) error {
		return o.deps.Posteriors.SaveTeamPosterior(ctx, newAway)
	}); err != nil {
		return result, err
	}
	if err := o.persistWithRetry(ctx, func(ctx context.Context) error {
		return o.deps.Feedback.SaveFeedbackState(ctx, o.deps.Coordinator.State())
	}); err != nil {
		return result, err
	}
	if err := o.persistWithRetry(ctx, func(ctx context.Context) error {
		return o.deps.Games.MarkProcessed(ctx, game.GameID)
	}); err != nil {
		return result, err
	}

	// Record keeping.
	o.mu.Lock()
	o.lastDate = game.GameDate
	o.lastID = game.GameID
	o.totalIterations++
	if fired {
		o.feedbackTriggers++
	}
	o.nnLossSum += nnLoss
	o.nnLossCount++
	o.vaeLossSum += result.VAELoss
	o.vaeLossCount++
	o.validation = append(o.validation, validationSample{
		homeMu:    newHome.Mu,
		homeSigma: newHome.Sigma,
		awayMu:    newAway.Mu,
		awaySigma: newAway.Sigma,
		gameCtx:   feats.Context,
		actual:    feats.HomeEvents,
	})
	if len(o.validation) > o.cfg.ValidationGames {
		o.validation = o.validation[1:]
	}
	o.mu.Unlock()

	nnLossGauge.Set(nnLoss)
	vaeLossGauge.Set(result.VAELoss)
	alphaGauge.Set(o.deps.Coordinator.Alpha())

	o.deps.Monitor.RecordPredictionPerformance(nnLoss, result.VAELoss, fired, o.deps.Coordinator.Alpha(), game.GameID)
	o.deps.Monitor.RecordTeamConvergence(game.HomeTeamID, newHome, homePost.MeanSigma()-newHome.MeanSigma())
	o.deps.Monitor.RecordTeamConvergence(game.AwayTeamID, newAway, awayPost.MeanSigma()-newAway.MeanSigma())

	return result, nil
}

func (o *Orchestrator) loadOrInitPosterior(ctx context.Context, teamID string, gameDate time.Time) (*models.TeamPosterior, error) {
	p, err := o.deps.Posteriors.GetTeamPosterior(ctx, teamID)
	if errors.Is(err, storage.ErrNotFound) {
		recent, rerr := o.deps.Games.TeamHasRecentGames(ctx, teamID, gameDate, o.cfg.RecentGameWindow)
		if rerr != nil {
			return nil, rerr
		}
		fresh := o.deps.Beliefs.Initialize(teamID, recent)
		o.logger.Infow("initialized team posterior", "team_id", teamID, "recent_games", recent)
		return fresh, nil
	}
	if err != nil {
		return nil, err
	}
	return o.deps.Beliefs.Repair(p)
}

// persistWithRetry wraps a storage write with bounded retries and linear
// backoff. Exhausted retries surface as a persistence error.
func (o *Orchestrator) persistWithRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= o.cfg.PersistRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt < o.cfg.PersistRetries {
			select {
			case <-time.After(time.Duration(attempt) * o.cfg.PersistBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w: %v", learn.ErrPersistence, err)
}

// Checkpoint snapshots both models and the feedback state. Synchronous: the
// loop pauses so no partially-updated weights are observed.
func (o *Orchestrator) Checkpoint(ctx context.Context) error {
	encData, err := o.deps.Encoder.Snapshot()
	if err != nil {
		return err
	}
	if err := o.persistWithRetry(ctx, func(ctx context.Context) error {
		return o.deps.Weights.SaveModelWeights(ctx, &models.WeightSnapshot{
			ModelName: models.ModelLatentEncoder,
			Step:      o.deps.Encoder.Step(),
			Data:      encData,
			SavedAt:   time.Now().UTC(),
		})
	}); err != nil {
		return err
	}

	predData, err := o.deps.Predictor.Snapshot()
	if err != nil {
		return err
	}
	if err := o.persistWithRetry(ctx, func(ctx context.Context) error {
		return o.deps.Weights.SaveModelWeights(ctx, &models.WeightSnapshot{
			ModelName: models.ModelEventPredictor,
			Step:      o.deps.Predictor.Step(),
			Data:      predData,
			SavedAt:   time.Now().UTC(),
		})
	}); err != nil {
		return err
	}

	if err := o.persistWithRetry(ctx, func(ctx context.Context) error {
		return o.deps.Feedback.SaveFeedbackState(ctx, o.deps.Coordinator.State())
	}); err != nil {
		return err
	}
	o.logger.Infow("checkpoint saved", "encoder_step", o.deps.Encoder.Step(), "predictor_step", o.deps.Predictor.Step())
	return nil
}

// runValidation evaluates the predictor on the retained ring of recent
// games without mutating any state.
func (o *Orchestrator) runValidation() {
	o.mu.Lock()
	samples := append([]validationSample(nil), o.validation...)
	o.mu.Unlock()
	if len(samples) == 0 {
		return
	}

	var total float64
	var evaluated int
	for _, s := range samples {
		probs, err := o.deps.Predictor.Predict(s.homeMu, s.homeSigma, s.awayMu, s.awaySigma, s.gameCtx)
		if err != nil {
			continue
		}
		loss, err := o.deps.Predictor.Loss(probs, s.actual)
		if err != nil {
			continue
		}
		total += loss
		evaluated++
	}
	if evaluated > 0 {
		o.logger.Infow("validation pass", "games", evaluated, "avg_cross_entropy", total/float64(evaluated))
	}
}

// GetTrainingStats aggregates the run counters with the coordinator's
// stability report.
func (o *Orchestrator) GetTrainingStats() models.TrainingStats {
	o.mu.Lock()
	stats := models.TrainingStats{
		TotalIterations:  o.totalIterations,
		FeedbackTriggers: o.feedbackTriggers,
	}
	if o.nnLossCount > 0 {
		stats.AverageNNLoss = o.nnLossSum / float64(o.nnLossCount)
	}
	if o.vaeLossCount > 0 {
		stats.AverageVAELoss = o.vaeLossSum / float64(o.vaeLossCount)
	}
	o.mu.Unlock()

	stats.Stability = o.deps.Coordinator.MonitorStability()
	report := o.deps.Monitor.GeneratePerformanceReport(learn.ReportOptions{IncludeTrends: true})
	stats.ConvergenceAchieved = report.Summary.GamesObserved > 0 &&
		report.Trends.NNLoss != learn.TrendDeclining &&
		stats.Stability.FeedbackRate < 0.5
	return stats
}

// PredictGame is the inference-only path for downstream consumers: it reads
// both posteriors and runs the predictor without mutating anything.
func (o *Orchestrator) PredictGame(ctx context.Context, homeTeamID, awayTeamID string, gameCtx models.GameContextVector) (models.EventProbabilityVector, error) {
	home, err := o.deps.Posteriors.GetTeamPosterior(ctx, homeTeamID)
	if err != nil {
		return nil, fmt.Errorf("%w: home team %s: %v", learn.ErrPosteriorUnavailable, homeTeamID, err)
	}
	away, err := o.deps.Posteriors.GetTeamPosterior(ctx, awayTeamID)
	if err != nil {
		return nil, fmt.Errorf("%w: away team %s: %v", learn.ErrPosteriorUnavailable, awayTeamID, err)
	}
	if home, err = o.deps.Beliefs.Repair(home); err != nil {
		return nil, err
	}
	if away, err = o.deps.Beliefs.Repair(away); err != nil {
		return nil, err
	}
	return o.deps.Predictor.Predict(home.Mu, home.Sigma, away.Mu, away.Sigma, gameCtx)
}
