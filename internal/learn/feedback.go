package learn

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// FeedbackConfig tunes the coupling between the predictor's loss and the
// encoder's weights. Without gating and decay the predictor's noisy
// early-training loss would destabilize the representation.
type FeedbackConfig struct {
	Threshold    float64 // feedback fires only when nnLoss exceeds this, > 0
	InitialAlpha float64 // starting feedback coefficient, (0, 1]
	DecayRate    float64 // geometric decay per firing, (0, 1)
	MinAlpha     float64 // floor for the coefficient, (0, InitialAlpha]
	WindowSize   int     // trailing window for the stability report, > 0
}

func (c *FeedbackConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: feedback threshold must be positive, got %f", ErrConfig, c.Threshold)
	}
	if c.InitialAlpha <= 0 || c.InitialAlpha > 1 {
		return fmt.Errorf("%w: initial alpha must be in (0,1], got %f", ErrConfig, c.InitialAlpha)
	}
	if c.DecayRate <= 0 || c.DecayRate >= 1 {
		return fmt.Errorf("%w: alpha decay rate must be in (0,1), got %f", ErrConfig, c.DecayRate)
	}
	if c.MinAlpha <= 0 || c.MinAlpha > c.InitialAlpha {
		return fmt.Errorf("%w: min alpha must be in (0, initialAlpha], got %f", ErrConfig, c.MinAlpha)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: feedback window size must be positive, got %d", ErrConfig, c.WindowSize)
	}
	return nil
}

// latentTrainer is the slice of the encoder the coordinator needs.
type latentTrainer interface {
	ApplyAuxiliaryGradient(x models.FeatureVector, gradMu, gradLogVar []float64, scale float64) error
}

// FeedbackEvidence carries one team's per-game encoder input and the
// predictor's gradient with respect to that team's latent.
type FeedbackEvidence struct {
	Features  models.FeatureVector
	Latent    models.LatentDistribution
	GradMu    []float64
	GradSigma []float64
}

// Coordinator gates and scales the predictor-to-encoder feedback signal.
// Owns no persistent state beyond the step counter and coefficient value.
type Coordinator struct {
	cfg     FeedbackConfig
	encoder latentTrainer
	logger  *zap.SugaredLogger

	step   int64
	alpha  float64
	window []bool
}

func NewCoordinator(cfg FeedbackConfig, encoder latentTrainer, logger *zap.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:     cfg,
		encoder: encoder,
		logger:  logger.Sugar(),
		alpha:   cfg.InitialAlpha,
	}, nil
}

// ShouldFeedback reports whether the loss is high enough to justify pushing
// predictor error into the representation.
func (c *Coordinator) ShouldFeedback(nnLoss float64) bool {
	return !math.IsNaN(nnLoss) && !math.IsInf(nnLoss, 0) && nnLoss > c.cfg.Threshold
}

// Apply conditionally backpropagates alpha*nnLoss into the encoder via the
// supplied evidence, then decays alpha and advances the step counter. When
// the gate does not fire, alpha and step are unchanged and no encoder
// update occurs. A non-finite loss never advances state.
func (c *Coordinator) Apply(nnLoss float64, evidence ...FeedbackEvidence) (alphaUsed float64, fired bool, err error) {
	if math.IsNaN(nnLoss) || math.IsInf(nnLoss, 0) {
		return 0, false, fmt.Errorf("%w: feedback received loss %v", ErrNumericInstability, nnLoss)
	}
	if !c.ShouldFeedback(nnLoss) {
		c.record(false)
		return 0, false, nil
	}

	alphaUsed = c.alpha
	scale := alphaUsed * nnLoss
	for _, ev := range evidence {
		gradLogVar, err := sigmaGradToLogVar(ev.Latent, ev.GradSigma)
		if err != nil {
			return 0, false, err
		}
		if err := c.encoder.ApplyAuxiliaryGradient(ev.Features, ev.GradMu, gradLogVar, scale); err != nil {
			return 0, false, err
		}
	}

	c.alpha *= c.cfg.DecayRate
	if c.alpha < c.cfg.MinAlpha {
		c.alpha = c.cfg.MinAlpha
	}
	c.step++
	c.record(true)
	c.logger.Debugw("feedback applied", "nn_loss", nnLoss, "alpha_used", alphaUsed, "alpha", c.alpha, "step", c.step)
	return alphaUsed, true, nil
}

// sigmaGradToLogVar converts the predictor's gradient with respect to sigma
// into a gradient with respect to logVar: dL/dlv = dL/dsigma * 0.5*sigma.
func sigmaGradToLogVar(lat models.LatentDistribution, gradSigma []float64) ([]float64, error) {
	if len(gradSigma) != models.LatentDim || len(lat.LogVar) != models.LatentDim {
		return nil, fmt.Errorf("%w: feedback evidence has wrong dims", ErrData)
	}
	out := make([]float64, models.LatentDim)
	for i := range out {
		out[i] = gradSigma[i] * 0.5 * math.Exp(0.5*lat.LogVar[i])
	}
	if err := sanitizeVec("feedback logVar gradient", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Coordinator) record(fired bool) {
	c.window = append(c.window, fired)
	if len(c.window) > c.cfg.WindowSize {
		c.window = c.window[1:]
	}
}

// Step reports how many times feedback has fired.
func (c *Coordinator) Step() int64 { return c.step }

// Alpha reports the current feedback coefficient.
func (c *Coordinator) Alpha() float64 { return c.alpha }

// State exports the persistent singleton state.
func (c *Coordinator) State() models.FeedbackState {
	return models.FeedbackState{Step: c.step, CurrentAlpha: c.alpha}
}

// SetState resumes from persisted state, clamping alpha into its legal range.
func (c *Coordinator) SetState(s models.FeedbackState) error {
	if s.Step < 0 {
		return fmt.Errorf("%w: feedback step must be non-negative, got %d", ErrConfig, s.Step)
	}
	if math.IsNaN(s.CurrentAlpha) || s.CurrentAlpha <= 0 {
		return fmt.Errorf("%w: feedback alpha must be positive, got %f", ErrConfig, s.CurrentAlpha)
	}
	c.step = s.Step
	c.alpha = clamp(s.CurrentAlpha, c.cfg.MinAlpha, c.cfg.InitialAlpha)
	return nil
}

// MonitorStability exposes the trailing feedback rate and observed alpha
// decay for the performance monitor.
func (c *Coordinator) MonitorStability() models.StabilityReport {
	var fires int
	for _, f := range c.window {
		if f {
			fires++
		}
	}
	rate := 0.0
	if len(c.window) > 0 {
		rate = float64(fires) / float64(len(c.window))
	}
	return models.StabilityReport{
		FeedbackRate:       rate,
		AlphaDecayObserved: c.cfg.InitialAlpha - c.alpha,
		CurrentAlpha:       c.alpha,
	}
}
