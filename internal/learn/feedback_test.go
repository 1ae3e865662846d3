package learn

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// stubTrainer records auxiliary gradient applications.
type stubTrainer struct {
	calls     int
	lastScale float64
	err       error
}

func (s *stubTrainer) ApplyAuxiliaryGradient(x models.FeatureVector, gradMu, gradLogVar []float64, scale float64) error {
	if s.err != nil {
		return s.err
	}
	s.calls++
	s.lastScale = scale
	return nil
}

func testFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{
		Threshold:    1.0,
		InitialAlpha: 0.1,
		DecayRate:    0.9,
		MinAlpha:     0.01,
		WindowSize:   10,
	}
}

func newTestCoordinator(t *testing.T, enc latentTrainer) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(testFeedbackConfig(), enc, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	return c
}

func testEvidence() FeedbackEvidence {
	lat := models.LatentDistribution{
		Mu:     make([]float64, models.LatentDim),
		LogVar: make([]float64, models.LatentDim),
	}
	grad := make([]float64, models.LatentDim)
	for i := range grad {
		grad[i] = 0.1
	}
	return FeedbackEvidence{
		Features:  randFeatures(9),
		Latent:    lat,
		GradMu:    grad,
		GradSigma: grad,
	}
}

func TestApplyBelowThreshold(t *testing.T) {
	stub := &stubTrainer{}
	c := newTestCoordinator(t, stub)

	_, fired, err := c.Apply(0.5, testEvidence())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if fired {
		t.Error("feedback fired below threshold")
	}
	if stub.calls != 0 {
		t.Errorf("encoder called %d times, want 0", stub.calls)
	}
	if c.Alpha() != 0.1 {
		t.Errorf("alpha changed to %f on a non-firing step", c.Alpha())
	}
	if c.Step() != 0 {
		t.Errorf("step advanced to %d on a non-firing step", c.Step())
	}
}

func TestApplyFiresAndDecays(t *testing.T) {
	stub := &stubTrainer{}
	c := newTestCoordinator(t, stub)

	alphaUsed, fired, err := c.Apply(2.0, testEvidence(), testEvidence())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !fired {
		t.Fatal("feedback did not fire above threshold")
	}
	if alphaUsed != 0.1 {
		t.Errorf("alphaUsed = %f, want initial 0.1", alphaUsed)
	}
	if stub.calls != 2 {
		t.Errorf("encoder called %d times, want one per evidence", stub.calls)
	}
	if want := 0.1 * 2.0; stub.lastScale != want {
		t.Errorf("scale = %f, want alpha*loss = %f", stub.lastScale, want)
	}
	if math.Abs(c.Alpha()-0.09) > 1e-12 {
		t.Errorf("alpha = %f, want decayed 0.09", c.Alpha())
	}
	if c.Step() != 1 {
		t.Errorf("step = %d, want 1", c.Step())
	}
}

func TestApplyNaNLossLeavesStateUntouched(t *testing.T) {
	stub := &stubTrainer{}
	c := newTestCoordinator(t, stub)

	_, _, err := c.Apply(math.NaN(), testEvidence())
	if !errors.Is(err, ErrNumericInstability) {
		t.Fatalf("got err %v, want ErrNumericInstability", err)
	}
	if stub.calls != 0 {
		t.Error("encoder was called on NaN loss")
	}
	if c.Alpha() != 0.1 || c.Step() != 0 {
		t.Errorf("state advanced on NaN loss: alpha=%f step=%d", c.Alpha(), c.Step())
	}
}

func TestAlphaFloor(t *testing.T) {
	c := newTestCoordinator(t, &stubTrainer{})
	for i := 0; i < 100; i++ {
		if _, _, err := c.Apply(5.0, testEvidence()); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	if c.Alpha() < 0.01 {
		t.Errorf("alpha %f fell below the floor", c.Alpha())
	}
}

func TestShouldFeedback(t *testing.T) {
	c := newTestCoordinator(t, &stubTrainer{})
	if c.ShouldFeedback(0.9) {
		t.Error("fired below threshold")
	}
	if !c.ShouldFeedback(1.1) {
		t.Error("did not fire above threshold")
	}
	if c.ShouldFeedback(math.Inf(1)) {
		t.Error("fired on infinite loss")
	}
}

func TestSetStateClampsAlpha(t *testing.T) {
	c := newTestCoordinator(t, &stubTrainer{})
	if err := c.SetState(models.FeedbackState{Step: 5, CurrentAlpha: 0.5}); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if c.Alpha() != 0.1 {
		t.Errorf("alpha = %f, want clamped to initial 0.1", c.Alpha())
	}
	if c.Step() != 5 {
		t.Errorf("step = %d, want 5", c.Step())
	}
	if err := c.SetState(models.FeedbackState{Step: 1, CurrentAlpha: -1}); !errors.Is(err, ErrConfig) {
		t.Fatalf("got err %v, want ErrConfig", err)
	}
}

func TestMonitorStability(t *testing.T) {
	c := newTestCoordinator(t, &stubTrainer{})
	// Two firing steps, two quiet steps.
	for _, loss := range []float64{2.0, 0.1, 2.0, 0.1} {
		if _, _, err := c.Apply(loss, testEvidence()); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	report := c.MonitorStability()
	if report.FeedbackRate != 0.5 {
		t.Errorf("feedback rate = %f, want 0.5", report.FeedbackRate)
	}
	if report.AlphaDecayObserved <= 0 {
		t.Errorf("alpha decay observed = %f, want > 0", report.AlphaDecayObserved)
	}
	if report.CurrentAlpha != c.Alpha() {
		t.Errorf("current alpha mismatch: %f vs %f", report.CurrentAlpha, c.Alpha())
	}
}
