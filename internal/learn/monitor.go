package learn

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert codes.
const (
	AlertLossIncreasing  = "loss_increasing"
	AlertFeedbackRate    = "feedback_rate_out_of_bounds"
	AlertSigmaStagnation = "sigma_not_decaying"
)

// Trend labels produced by the oldest-third vs newest-third comparison.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// Alert is a monitor finding delivered to registered callbacks. The monitor
// never propagates problems as errors; observers decide what to do.
type Alert struct {
	Severity string    `json:"severity"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	TeamID   string    `json:"team_id,omitempty"`
	At       time.Time `json:"at"`
}

// AlertFunc receives alerts as they are raised.
type AlertFunc func(Alert)

// MonitorConfig bounds the monitor's trailing window and the expected
// feedback-rate band.
type MonitorConfig struct {
	WindowSize      int     // games kept in the trailing window, > 0
	FeedbackRateMin float64 // expected lower bound on feedback rate, [0,1]
	FeedbackRateMax float64 // expected upper bound on feedback rate, (min,1]
	TrendTolerance  float64 // relative change below which a trend is stable, >= 0
	MaxAlerts       int     // recent alerts retained for reports, > 0
}

func (c *MonitorConfig) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: monitor window size must be positive, got %d", ErrConfig, c.WindowSize)
	}
	if c.FeedbackRateMin < 0 || c.FeedbackRateMin > 1 {
		return fmt.Errorf("%w: feedback rate min must be in [0,1], got %f", ErrConfig, c.FeedbackRateMin)
	}
	if c.FeedbackRateMax <= c.FeedbackRateMin || c.FeedbackRateMax > 1 {
		return fmt.Errorf("%w: feedback rate max must be in (min,1], got %f", ErrConfig, c.FeedbackRateMax)
	}
	if c.TrendTolerance < 0 {
		return fmt.Errorf("%w: trend tolerance must be non-negative, got %f", ErrConfig, c.TrendTolerance)
	}
	if c.MaxAlerts <= 0 {
		return fmt.Errorf("%w: max alerts must be positive, got %d", ErrConfig, c.MaxAlerts)
	}
	return nil
}

type perfRecord struct {
	gameID            uuid.UUID
	nnLoss            float64
	vaeLoss           float64
	feedbackTriggered bool
	alpha             float64
	at                time.Time
}

type convergencePoint struct {
	gamesProcessed int
	meanSigma      float64
}

// ReportOptions filters a performance report.
type ReportOptions struct {
	IncludeAlerts bool `json:"include_alerts"`
	IncludeTrends bool `json:"include_trends"`
}

// ReportSummary aggregates the trailing window.
type ReportSummary struct {
	GamesObserved  int     `json:"games_observed"`
	AverageNNLoss  float64 `json:"average_nn_loss"`
	AverageVAELoss float64 `json:"average_vae_loss"`
	FeedbackRate   float64 `json:"feedback_rate"`
	CurrentAlpha   float64 `json:"current_alpha"`
}

// ReportTrends labels the direction of each loss series.
type ReportTrends struct {
	NNLoss  string `json:"nn_loss"`
	VAELoss string `json:"vae_loss"`
}

// Report is the monitor's full output.
type Report struct {
	Summary ReportSummary `json:"summary"`
	Trends  ReportTrends  `json:"trends"`
	Alerts  []Alert       `json:"alerts"`
}

// Monitor consumes per-game losses and per-team posterior snapshots,
// computes rolling statistics, and raises alerts on divergence or
// stagnation. Safe for concurrent readers while the loop writes.
type Monitor struct {
	cfg    MonitorConfig
	logger *zap.SugaredLogger

	mu          sync.Mutex
	window      []perfRecord
	convergence map[string][]convergencePoint
	alerts      []Alert
	callbacks   []AlertFunc
}

func NewMonitor(cfg MonitorConfig, logger *zap.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:         cfg,
		logger:      logger.Sugar(),
		convergence: make(map[string][]convergencePoint),
	}, nil
}

// RegisterAlertCallback adds an observer for future alerts.
func (m *Monitor) RegisterAlertCallback(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// RecordPredictionPerformance appends one game's losses to the trailing
// window and checks the divergence conditions.
func (m *Monitor) RecordPredictionPerformance(nnLoss, vaeLoss float64, feedbackTriggered bool, currentAlpha float64, gameID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, perfRecord{
		gameID:            gameID,
		nnLoss:            nnLoss,
		vaeLoss:           vaeLoss,
		feedbackTriggered: feedbackTriggered,
		alpha:             currentAlpha,
		at:                time.Now().UTC(),
	})
	if len(m.window) > m.cfg.WindowSize {
		m.window = m.window[1:]
	}

	if len(m.window) < m.cfg.WindowSize {
		return
	}
	if trendOf(m.nnSeries(), m.cfg.TrendTolerance) == TrendDeclining {
		m.raise(Alert{
			Severity: SeverityWarning,
			Code:     AlertLossIncreasing,
			Message:  fmt.Sprintf("nn loss rising over the last %d games", len(m.window)),
			At:       time.Now().UTC(),
		})
	}
	rate := m.feedbackRate()
	if rate < m.cfg.FeedbackRateMin || rate > m.cfg.FeedbackRateMax {
		m.raise(Alert{
			Severity: SeverityWarning,
			Code:     AlertFeedbackRate,
			Message:  fmt.Sprintf("feedback rate %.2f outside expected [%.2f, %.2f]", rate, m.cfg.FeedbackRateMin, m.cfg.FeedbackRateMax),
			At:       time.Now().UTC(),
		})
	}
}

// RecordTeamConvergence tracks a team's uncertainty decay. A window where
// games keep accumulating but sigma refuses to shrink is flagged.
func (m *Monitor) RecordTeamConvergence(teamID string, posterior *models.TeamPosterior, sigmaReduction float64) {
	if posterior == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	points := append(m.convergence[teamID], convergencePoint{
		gamesProcessed: posterior.GamesProcessed,
		meanSigma:      posterior.MeanSigma(),
	})
	if len(points) > m.cfg.WindowSize {
		points = points[1:]
	}
	m.convergence[teamID] = points

	if len(points) < m.cfg.WindowSize {
		return
	}
	first, last := points[0], points[len(points)-1]
	if last.gamesProcessed > first.gamesProcessed && last.meanSigma >= first.meanSigma {
		m.raise(Alert{
			Severity: SeverityCritical,
			Code:     AlertSigmaStagnation,
			Message:  fmt.Sprintf("sigma not decaying for team %s across %d games", teamID, last.gamesProcessed-first.gamesProcessed),
			TeamID:   teamID,
			At:       time.Now().UTC(),
		})
	}
}

// GeneratePerformanceReport summarizes the trailing window.
func (m *Monitor) GeneratePerformanceReport(opts ReportOptions) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report Report
	n := len(m.window)
	report.Summary.GamesObserved = n
	if n > 0 {
		var nnSum, vaeSum float64
		for _, r := range m.window {
			nnSum += r.nnLoss
			vaeSum += r.vaeLoss
		}
		report.Summary.AverageNNLoss = nnSum / float64(n)
		report.Summary.AverageVAELoss = vaeSum / float64(n)
		report.Summary.FeedbackRate = m.feedbackRate()
		report.Summary.CurrentAlpha = m.window[n-1].alpha
	}
	if opts.IncludeTrends {
		report.Trends.NNLoss = trendOf(m.nnSeries(), m.cfg.TrendTolerance)
		report.Trends.VAELoss = trendOf(m.vaeSeries(), m.cfg.TrendTolerance)
	}
	if opts.IncludeAlerts {
		report.Alerts = append([]Alert(nil), m.alerts...)
	}
	return report
}

// raise records an alert and notifies observers. A panicking callback must
// not kill the loop.
func (m *Monitor) raise(a Alert) {
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > m.cfg.MaxAlerts {
		m.alerts = m.alerts[1:]
	}
	m.logger.Warnw("monitor alert", "code", a.Code, "severity", a.Severity, "message", a.Message)
	for _, fn := range m.callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorw("alert callback panic", "error", r)
				}
			}()
			fn(a)
		}()
	}
}

func (m *Monitor) feedbackRate() float64 {
	if len(m.window) == 0 {
		return 0
	}
	var fires int
	for _, r := range m.window {
		if r.feedbackTriggered {
			fires++
		}
	}
	return float64(fires) / float64(len(m.window))
}

func (m *Monitor) nnSeries() []float64 {
	s := make([]float64, len(m.window))
	for i, r := range m.window {
		s[i] = r.nnLoss
	}
	return s
}

func (m *Monitor) vaeSeries() []float64 {
	s := make([]float64, len(m.window))
	for i, r := range m.window {
		s[i] = r.vaeLoss
	}
	return s
}

// trendOf compares the mean of the oldest third of the series against the
// mean of the newest third. For losses, newest > oldest means declining
// performance.
func trendOf(series []float64, tolerance float64) string {
	third := len(series) / 3
	if third == 0 {
		return TrendStable
	}
	var oldSum, newSum float64
	for _, v := range series[:third] {
		oldSum += v
	}
	for _, v := range series[len(series)-third:] {
		newSum += v
	}
	oldMean := oldSum / float64(third)
	newMean := newSum / float64(third)

	if oldMean == 0 {
		return TrendStable
	}
	change := (newMean - oldMean) / oldMean
	switch {
	case change > tolerance:
		return TrendDeclining
	case change < -tolerance:
		return TrendImproving
	default:
		return TrendStable
	}
}
