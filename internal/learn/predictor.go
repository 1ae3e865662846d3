package learn

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// PredictorInputDim is home mu + home sigma + away mu + away sigma + context.
const PredictorInputDim = 4*models.LatentDim + models.ContextDim

// PredictorConfig holds the event predictor hyperparameters.
type PredictorConfig struct {
	HiddenSize   int
	LearningRate float64
	GradClip     float64
	Seed         uint64
}

func (c *PredictorConfig) Validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("%w: predictor hidden size must be positive, got %d", ErrConfig, c.HiddenSize)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("%w: predictor learning rate must be in (0,1], got %f", ErrConfig, c.LearningRate)
	}
	if c.GradClip <= 0 {
		return fmt.Errorf("%w: predictor grad clip must be positive, got %f", ErrConfig, c.GradClip)
	}
	return nil
}

// Predictor maps the two teams' latent distributions plus game context to a
// categorical distribution over the eight possession outcomes.
//
// Convention: inputs are always ordered (home, away). The network is trained
// once per game from this fixed home perspective, so the context vector's
// home-advantage signal keeps a consistent meaning.
type Predictor struct {
	cfg    PredictorConfig
	hidden *denseLayer
	logits *denseLayer
	step   int64

	// gradient of the last training loss with respect to the input vector,
	// consumed by the feedback coordinator
	lastInputGrad []float64
}

func NewPredictor(cfg PredictorConfig) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := rand.NewSource(cfg.Seed)
	return &Predictor{
		cfg:    cfg,
		hidden: newDenseLayer(PredictorInputDim, cfg.HiddenSize, actTanh, src),
		logits: newDenseLayer(cfg.HiddenSize, models.EventDim, actLinear, src),
	}, nil
}

// Step reports the number of training updates applied.
func (p *Predictor) Step() int64 { return p.step }

func buildInput(homeMu, homeSigma, awayMu, awaySigma []float64, gameCtx models.GameContextVector) ([]float64, error) {
	if len(homeMu) != models.LatentDim || len(homeSigma) != models.LatentDim ||
		len(awayMu) != models.LatentDim || len(awaySigma) != models.LatentDim {
		return nil, fmt.Errorf("%w: latent inputs must be %d-dim", ErrData, models.LatentDim)
	}
	if err := gameCtx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrData, err)
	}
	in := make([]float64, 0, PredictorInputDim)
	in = append(in, homeMu...)
	in = append(in, homeSigma...)
	in = append(in, awayMu...)
	in = append(in, awaySigma...)
	in = append(in, gameCtx...)
	if err := sanitizeVec("predictor input", in); err != nil {
		return nil, err
	}
	return in, nil
}

// Predict returns a valid categorical distribution over event outcomes:
// non-negative, summing to 1 via the softmax output.
func (p *Predictor) Predict(homeMu, homeSigma, awayMu, awaySigma []float64, gameCtx models.GameContextVector) (models.EventProbabilityVector, error) {
	in, err := buildInput(homeMu, homeSigma, awayMu, awaySigma, gameCtx)
	if err != nil {
		return nil, err
	}
	return p.forward(in)
}

func (p *Predictor) forward(in []float64) (models.EventProbabilityVector, error) {
	h := p.hidden.forward(in)
	raw := p.logits.forward(h)

	// Softmax with max subtraction for stability.
	maxLogit := raw[0]
	for _, v := range raw[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	probs := make(models.EventProbabilityVector, models.EventDim)
	var sum float64
	for i, v := range raw {
		probs[i] = math.Exp(v - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	if err := sanitizeVec("predicted distribution", probs); err != nil {
		return nil, err
	}
	return probs, nil
}

// Loss is the cross-entropy between the predicted and observed event
// distributions.
func (p *Predictor) Loss(predicted, actual models.EventProbabilityVector) (float64, error) {
	if len(predicted) != models.EventDim || len(actual) != models.EventDim {
		return 0, fmt.Errorf("%w: event vectors must be %d-dim", ErrData, models.EventDim)
	}
	var ce float64
	for i := range actual {
		ce -= actual[i] * math.Log(predicted[i]+1e-12)
	}
	return sanitizeLoss("cross-entropy", ce)
}

// Train runs one gradient update from the home perspective and returns the
// cross-entropy loss. The input gradient is retained for the feedback
// coordinator until the next call.
func (p *Predictor) Train(homeMu, homeSigma, awayMu, awaySigma []float64, gameCtx models.GameContextVector, actual models.EventProbabilityVector) (float64, error) {
	if err := actual.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrData, err)
	}
	in, err := buildInput(homeMu, homeSigma, awayMu, awaySigma, gameCtx)
	if err != nil {
		return 0, err
	}
	probs, err := p.forward(in)
	if err != nil {
		p.hidden.clearGrads()
		p.logits.clearGrads()
		return 0, err
	}
	loss, err := p.Loss(probs, actual)
	if err != nil {
		p.hidden.clearGrads()
		p.logits.clearGrads()
		return 0, err
	}

	// Softmax + cross-entropy: dL/dlogits = p - y.
	dLogits := make([]float64, models.EventDim)
	for i := range dLogits {
		dLogits[i] = probs[i] - actual[i]
	}
	dH := p.logits.backward(dLogits)
	p.lastInputGrad = p.hidden.backward(dH)

	p.hidden.step(p.cfg.LearningRate, p.cfg.GradClip)
	p.logits.step(p.cfg.LearningRate, p.cfg.GradClip)
	p.step++
	return loss, nil
}

// LatentGradients slices the last training step's input gradient into its
// per-team segments. Returns nil slices before the first training step.
func (p *Predictor) LatentGradients() (homeMu, homeSigma, awayMu, awaySigma []float64) {
	if len(p.lastInputGrad) != PredictorInputDim {
		return nil, nil, nil, nil
	}
	d := models.LatentDim
	return p.lastInputGrad[0:d],
		p.lastInputGrad[d : 2*d],
		p.lastInputGrad[2*d : 3*d],
		p.lastInputGrad[3*d : 4*d]
}

type predictorDTO struct {
	Step   int64    `json:"step"`
	Hidden layerDTO `json:"hidden"`
	Logits layerDTO `json:"logits"`
}

// Snapshot serializes the trainable parameters and step counter.
func (p *Predictor) Snapshot() ([]byte, error) {
	return json.Marshal(predictorDTO{Step: p.step, Hidden: p.hidden.dto(), Logits: p.logits.dto()})
}

// Restore loads a snapshot produced by Snapshot.
func (p *Predictor) Restore(data []byte) error {
	var dto predictorDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("%w: decoding predictor snapshot: %v", ErrConfig, err)
	}
	if err := p.hidden.restore(dto.Hidden); err != nil {
		return err
	}
	if err := p.logits.restore(dto.Logits); err != nil {
		return err
	}
	p.step = dto.Step
	return nil
}
