package learn

import (
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testMonitorConfig() MonitorConfig {
	return MonitorConfig{
		WindowSize:      6,
		FeedbackRateMin: 0.0,
		FeedbackRateMax: 1.0,
		TrendTolerance:  0.05,
		MaxAlerts:       10,
	}
}

func newTestMonitor(t *testing.T, cfg MonitorConfig) *Monitor {
	t.Helper()
	m, err := NewMonitor(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	return m
}

func TestLossIncreasingAlert(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	var got []Alert
	m.RegisterAlertCallback(func(a Alert) { got = append(got, a) })

	for i := 0; i < 6; i++ {
		m.RecordPredictionPerformance(1.0+float64(i)*0.5, 0.1, false, 0.1, uuid.New())
	}

	var found bool
	for _, a := range got {
		if a.Code == AlertLossIncreasing {
			found = true
		}
	}
	if !found {
		t.Error("no loss_increasing alert for a rising loss series")
	}
}

func TestNoAlertBeforeWindowFull(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	var got []Alert
	m.RegisterAlertCallback(func(a Alert) { got = append(got, a) })

	for i := 0; i < 5; i++ {
		m.RecordPredictionPerformance(1.0+float64(i), 0.1, false, 0.1, uuid.New())
	}
	if len(got) != 0 {
		t.Errorf("got %d alerts before the window filled", len(got))
	}
}

func TestFeedbackRateAlert(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.FeedbackRateMin = 0.2
	cfg.FeedbackRateMax = 0.8
	m := newTestMonitor(t, cfg)
	var got []Alert
	m.RegisterAlertCallback(func(a Alert) { got = append(got, a) })

	// Feedback fires every single game: rate 1.0 is out of band.
	for i := 0; i < 6; i++ {
		m.RecordPredictionPerformance(1.0, 0.1, true, 0.1, uuid.New())
	}

	var found bool
	for _, a := range got {
		if a.Code == AlertFeedbackRate {
			found = true
		}
	}
	if !found {
		t.Error("no feedback rate alert for an out-of-band rate")
	}
}

func TestSigmaStagnationAlert(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	var got []Alert
	m.RegisterAlertCallback(func(a Alert) { got = append(got, a) })

	u := newTestUpdater(t)
	p := u.Initialize("team-001", true)
	for i := 0; i < 6; i++ {
		p.GamesProcessed = i + 1
		m.RecordTeamConvergence("team-001", p, 0)
	}

	var found bool
	for _, a := range got {
		if a.Code == AlertSigmaStagnation && a.TeamID == "team-001" {
			found = true
		}
	}
	if !found {
		t.Error("no sigma stagnation alert for a flat sigma series")
	}
}

func TestGeneratePerformanceReport(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	losses := []float64{2.0, 1.8, 1.6, 1.4, 1.2, 1.0}
	for i, l := range losses {
		m.RecordPredictionPerformance(l, 0.5, i%2 == 0, 0.08, uuid.New())
	}

	report := m.GeneratePerformanceReport(ReportOptions{IncludeTrends: true, IncludeAlerts: true})
	if report.Summary.GamesObserved != 6 {
		t.Errorf("games observed = %d, want 6", report.Summary.GamesObserved)
	}
	if report.Summary.AverageNNLoss != 1.5 {
		t.Errorf("average nn loss = %f, want 1.5", report.Summary.AverageNNLoss)
	}
	if report.Summary.FeedbackRate != 0.5 {
		t.Errorf("feedback rate = %f, want 0.5", report.Summary.FeedbackRate)
	}
	if report.Summary.CurrentAlpha != 0.08 {
		t.Errorf("current alpha = %f, want 0.08", report.Summary.CurrentAlpha)
	}
	if report.Trends.NNLoss != TrendImproving {
		t.Errorf("nn trend = %q, want improving", report.Trends.NNLoss)
	}
	if report.Trends.VAELoss != TrendStable {
		t.Errorf("vae trend = %q, want stable", report.Trends.VAELoss)
	}
}

func TestAlertCallbackPanicRecovered(t *testing.T) {
	m := newTestMonitor(t, testMonitorConfig())
	m.RegisterAlertCallback(func(Alert) { panic("boom") })
	var delivered bool
	m.RegisterAlertCallback(func(Alert) { delivered = true })

	// Should not panic out of the record call.
	for i := 0; i < 6; i++ {
		m.RecordPredictionPerformance(1.0+float64(i), 0.1, false, 0.1, uuid.New())
	}
	if !delivered {
		t.Error("second callback not invoked after a panicking one")
	}
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   string
	}{
		{"rising", []float64{1, 1, 2, 2, 3, 3}, TrendDeclining},
		{"falling", []float64{3, 3, 2, 2, 1, 1}, TrendImproving},
		{"flat", []float64{1, 1, 1, 1, 1, 1}, TrendStable},
		{"too short", []float64{1, 2}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trendOf(tt.series, 0.05); got != tt.want {
				t.Errorf("trendOf(%v) = %q, want %q", tt.series, got, tt.want)
			}
		})
	}
}
