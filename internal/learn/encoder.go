package learn

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

// EncoderConfig holds the VAE hyperparameters. Validate rejects values
// outside their documented ranges at construction time.
type EncoderConfig struct {
	HiddenSize   int     // width of the encoder/decoder hidden layers
	LearningRate float64 // SGD step size, (0, 1]
	GradClip     float64 // elementwise gradient clip, > 0

	// KL weight annealing: beta ramps 0 -> BetaMax over BetaWarmupSteps.
	BetaMax         float64
	BetaWarmupSteps int64

	// Contrastive (InfoNCE) extension. When enabled, a contrastive term
	// pulls a game's latent toward latents of games with similar event
	// distributions and pushes it from dissimilar ones, under a weight that
	// ramps ContrastiveMin -> ContrastiveMax over ContrastiveWarmupSteps.
	Contrastive            bool
	ContrastiveMin         float64
	ContrastiveMax         float64
	ContrastiveWarmupSteps int64
	ContrastiveQueueSize   int
	NegativeSamples        int
	Temperature            float64

	Seed uint64
}

func (c *EncoderConfig) Validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("%w: encoder hidden size must be positive, got %d", ErrConfig, c.HiddenSize)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("%w: encoder learning rate must be in (0,1], got %f", ErrConfig, c.LearningRate)
	}
	if c.GradClip <= 0 {
		return fmt.Errorf("%w: encoder grad clip must be positive, got %f", ErrConfig, c.GradClip)
	}
	if c.BetaMax < 0 {
		return fmt.Errorf("%w: beta max must be non-negative, got %f", ErrConfig, c.BetaMax)
	}
	if c.BetaWarmupSteps < 0 {
		return fmt.Errorf("%w: beta warmup steps must be non-negative, got %d", ErrConfig, c.BetaWarmupSteps)
	}
	if c.Contrastive {
		if c.ContrastiveMin < 0 || c.ContrastiveMax < c.ContrastiveMin {
			return fmt.Errorf("%w: contrastive weights must satisfy 0 <= min <= max", ErrConfig)
		}
		if c.ContrastiveWarmupSteps <= 0 {
			return fmt.Errorf("%w: contrastive warmup steps must be positive", ErrConfig)
		}
		if c.ContrastiveQueueSize < c.NegativeSamples+1 {
			return fmt.Errorf("%w: contrastive queue must hold at least negatives+1 entries", ErrConfig)
		}
		if c.NegativeSamples <= 0 {
			return fmt.Errorf("%w: negative sample count must be positive", ErrConfig)
		}
		if c.Temperature <= 0 {
			return fmt.Errorf("%w: contrastive temperature must be positive", ErrConfig)
		}
	}
	return nil
}

// VAELoss is the decomposed training loss for one sample.
type VAELoss struct {
	Reconstruction float64 `json:"reconstruction"`
	KL             float64 `json:"kl"`
	Contrastive    float64 `json:"contrastive"`
	Beta           float64 `json:"beta"`
	Total          float64 `json:"total"`
}

type contrastiveEntry struct {
	mu     []float64
	events models.EventProbabilityVector
}

// Encoder is the variational autoencoder mapping an 88-dim feature vector
// to a 16-dim Gaussian latent and back.
type Encoder struct {
	cfg EncoderConfig

	enc    *denseLayer // features -> hidden
	muHead *denseLayer // hidden -> latent mean
	lvHead *denseLayer // hidden -> latent log-variance
	dec    *denseLayer // latent -> hidden
	out    *denseLayer // hidden -> reconstruction

	noise distuv.Normal
	rng   *rand.Rand
	queue []contrastiveEntry
	step  int64
}

func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := rand.NewSource(cfg.Seed)
	return &Encoder{
		cfg:    cfg,
		enc:    newDenseLayer(models.FeatureDim, cfg.HiddenSize, actTanh, src),
		muHead: newDenseLayer(cfg.HiddenSize, models.LatentDim, actLinear, src),
		lvHead: newDenseLayer(cfg.HiddenSize, models.LatentDim, actLinear, src),
		dec:    newDenseLayer(models.LatentDim, cfg.HiddenSize, actTanh, src),
		out:    newDenseLayer(cfg.HiddenSize, models.FeatureDim, actSigmoid, src),
		noise:  distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		rng:    rand.New(src),
	}, nil
}

// Step reports the number of training updates applied.
func (e *Encoder) Step() int64 { return e.step }

// Encode maps features to a latent Gaussian. Log-variance is clamped to a
// safe range before any caller exponentiates it.
func (e *Encoder) Encode(x models.FeatureVector) (models.LatentDistribution, error) {
	if err := x.Validate(); err != nil {
		return models.LatentDistribution{}, fmt.Errorf("%w: %v", ErrData, err)
	}
	h := e.enc.forward(x)
	mu := append([]float64(nil), e.muHead.forward(h)...)
	lv := append([]float64(nil), e.lvHead.forward(h)...)
	clampLogVar(lv)

	lat := models.LatentDistribution{Mu: mu, LogVar: lv}
	if err := lat.Validate(); err != nil {
		return models.LatentDistribution{}, fmt.Errorf("%w: %v", ErrNumericInstability, err)
	}
	return lat, nil
}

// Decode reconstructs features from a latent using reparameterized
// sampling: z = mu + exp(0.5*logVar) * eps, eps ~ N(0, I).
func (e *Encoder) Decode(lat models.LatentDistribution) ([]float64, error) {
	recon, _, err := e.decodeSampled(lat)
	return recon, err
}

func (e *Encoder) decodeSampled(lat models.LatentDistribution) (recon, eps []float64, err error) {
	if err := lat.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrData, err)
	}
	z := make([]float64, models.LatentDim)
	eps = make([]float64, models.LatentDim)
	for i := 0; i < models.LatentDim; i++ {
		eps[i] = e.noise.Rand()
		z[i] = lat.Mu[i] + math.Exp(0.5*lat.LogVar[i])*eps[i]
	}
	h := e.dec.forward(z)
	recon = append([]float64(nil), e.out.forward(h)...)
	if err := sanitizeVec("reconstruction", recon); err != nil {
		return nil, nil, err
	}
	return recon, eps, nil
}

// Loss computes the decomposed VAE loss without mutating any weights.
func (e *Encoder) Loss(x models.FeatureVector, recon []float64, lat models.LatentDistribution) (VAELoss, error) {
	loss := VAELoss{Beta: e.beta()}

	var mse float64
	for i := range x {
		d := recon[i] - x[i]
		mse += d * d
	}
	loss.Reconstruction = mse / float64(models.FeatureDim)

	// Closed-form KL of N(mu, diag(exp(logVar))) from N(0, I).
	var kl float64
	for i := 0; i < models.LatentDim; i++ {
		kl += -0.5 * (1 + lat.LogVar[i] - lat.Mu[i]*lat.Mu[i] - math.Exp(lat.LogVar[i]))
	}
	loss.KL = kl

	loss.Total = loss.Reconstruction + loss.Beta*loss.KL

	var err error
	if loss.Total, err = sanitizeLoss("vae total loss", loss.Total); err != nil {
		return loss, err
	}
	return loss, nil
}

// Train runs one full forward/backward pass on a single game's features.
// A non-finite loss skips the weight update and surfaces as a numeric
// instability error; the encoder stays usable for the next game.
func (e *Encoder) Train(x models.FeatureVector, events models.EventProbabilityVector) (VAELoss, error) {
	lat, err := e.Encode(x)
	if err != nil {
		return VAELoss{}, err
	}
	recon, eps, err := e.decodeSampled(lat)
	if err != nil {
		e.clearGrads()
		return VAELoss{}, err
	}
	loss, err := e.Loss(x, recon, lat)
	if err != nil {
		e.clearGrads()
		return loss, err
	}

	// dL/dreconstruction.
	dRecon := make([]float64, models.FeatureDim)
	for i := range dRecon {
		dRecon[i] = 2 * (recon[i] - x[i]) / float64(models.FeatureDim)
	}
	dH2 := e.out.backward(dRecon)
	dZ := e.dec.backward(dH2)

	beta := loss.Beta
	dMu := make([]float64, models.LatentDim)
	dLv := make([]float64, models.LatentDim)
	for i := 0; i < models.LatentDim; i++ {
		// Reparameterization: z = mu + exp(0.5*lv)*eps.
		dMu[i] = dZ[i] + beta*lat.Mu[i]
		dLv[i] = dZ[i]*eps[i]*0.5*math.Exp(0.5*lat.LogVar[i]) + beta*0.5*(math.Exp(lat.LogVar[i])-1)
	}

	if e.cfg.Contrastive {
		cLoss, cGrad := e.contrastiveTerm(lat.Mu, events)
		loss.Contrastive = cLoss
		w := e.contrastiveWeight()
		loss.Total += w * cLoss
		for i := range dMu {
			dMu[i] += w * cGrad[i]
		}
	}

	if err := sanitizeVec("latent gradient", dMu); err != nil {
		e.clearGrads()
		return loss, err
	}

	dH1 := e.muHead.backward(dMu)
	floats.Add(dH1, e.lvHead.backward(dLv))
	e.enc.backward(dH1)

	e.stepAll()
	e.step++

	if e.cfg.Contrastive {
		e.pushContrastive(lat.Mu, events)
	}
	return loss, nil
}

// ApplyAuxiliaryGradient backpropagates an external gradient on (mu, logVar)
// into the encoder weights, scaled by alpha. This is the channel the
// feedback coordinator uses to let the predictor's error shape the latent
// space.
func (e *Encoder) ApplyAuxiliaryGradient(x models.FeatureVector, gradMu, gradLogVar []float64, scale float64) error {
	if len(gradMu) != models.LatentDim || len(gradLogVar) != models.LatentDim {
		return fmt.Errorf("%w: auxiliary gradient has wrong dims", ErrData)
	}
	if err := sanitizeVec("auxiliary mu gradient", gradMu); err != nil {
		return err
	}
	if err := sanitizeVec("auxiliary logVar gradient", gradLogVar); err != nil {
		return err
	}
	if _, err := e.Encode(x); err != nil {
		return err
	}

	dMu := make([]float64, models.LatentDim)
	dLv := make([]float64, models.LatentDim)
	for i := 0; i < models.LatentDim; i++ {
		dMu[i] = scale * gradMu[i]
		dLv[i] = scale * gradLogVar[i]
	}
	dH1 := e.muHead.backward(dMu)
	floats.Add(dH1, e.lvHead.backward(dLv))
	e.enc.backward(dH1)

	e.muHead.step(e.cfg.LearningRate, e.cfg.GradClip)
	e.lvHead.step(e.cfg.LearningRate, e.cfg.GradClip)
	e.enc.step(e.cfg.LearningRate, e.cfg.GradClip)
	// Decoder caches from Encode are untouched; clear any stale grads.
	e.dec.clearGrads()
	e.out.clearGrads()
	return nil
}

func (e *Encoder) beta() float64 {
	if e.cfg.BetaWarmupSteps == 0 {
		return e.cfg.BetaMax
	}
	frac := float64(e.step) / float64(e.cfg.BetaWarmupSteps)
	if frac > 1 {
		frac = 1
	}
	return e.cfg.BetaMax * frac
}

func (e *Encoder) contrastiveWeight() float64 {
	frac := float64(e.step) / float64(e.cfg.ContrastiveWarmupSteps)
	if frac > 1 {
		frac = 1
	}
	return e.cfg.ContrastiveMin + (e.cfg.ContrastiveMax-e.cfg.ContrastiveMin)*frac
}

// contrastiveTerm computes the InfoNCE loss and its gradient with respect
// to mu. The positive is the queued game with the most similar event
// distribution; negatives are sampled from the least similar half.
func (e *Encoder) contrastiveTerm(mu []float64, events models.EventProbabilityVector) (float64, []float64) {
	grad := make([]float64, models.LatentDim)
	if len(events) != models.EventDim || len(e.queue) < e.cfg.NegativeSamples+1 {
		return 0, grad
	}

	posIdx, order := e.rankBySimilarity(events)
	candidates := make([]*contrastiveEntry, 0, e.cfg.NegativeSamples+1)
	candidates = append(candidates, &e.queue[posIdx])
	// Sample negatives from the dissimilar half of the queue.
	half := order[len(order)/2:]
	for i := 0; i < e.cfg.NegativeSamples && len(half) > 0; i++ {
		candidates = append(candidates, &e.queue[half[e.rng.Intn(len(half))]])
	}

	// Softmax over scaled dot-product similarities; index 0 is the positive.
	sims := make([]float64, len(candidates))
	maxSim := math.Inf(-1)
	for i, c := range candidates {
		sims[i] = floats.Dot(mu, c.mu) / (float64(models.LatentDim) * e.cfg.Temperature)
		if sims[i] > maxSim {
			maxSim = sims[i]
		}
	}
	var denom float64
	for i := range sims {
		sims[i] = math.Exp(sims[i] - maxSim)
		denom += sims[i]
	}
	loss := -math.Log(sims[0] / denom)

	scale := 1.0 / (float64(models.LatentDim) * e.cfg.Temperature)
	for i, c := range candidates {
		p := sims[i] / denom
		coeff := p
		if i == 0 {
			coeff = p - 1
		}
		for d := 0; d < models.LatentDim; d++ {
			grad[d] += scale * coeff * c.mu[d]
		}
	}
	return loss, grad
}

// rankBySimilarity returns the index of the most event-similar queue entry
// and all indices ordered most-to-least similar.
func (e *Encoder) rankBySimilarity(events models.EventProbabilityVector) (int, []int) {
	type scored struct {
		idx int
		sim float64
	}
	scoredAll := make([]scored, len(e.queue))
	for i, entry := range e.queue {
		scoredAll[i] = scored{idx: i, sim: floats.Dot(events, entry.events)}
	}
	for i := 1; i < len(scoredAll); i++ {
		for j := i; j > 0 && scoredAll[j].sim > scoredAll[j-1].sim; j-- {
			scoredAll[j], scoredAll[j-1] = scoredAll[j-1], scoredAll[j]
		}
	}
	order := make([]int, len(scoredAll))
	for i, s := range scoredAll {
		order[i] = s.idx
	}
	return order[0], order
}

func (e *Encoder) pushContrastive(mu []float64, events models.EventProbabilityVector) {
	if len(events) != models.EventDim {
		return
	}
	entry := contrastiveEntry{
		mu:     append([]float64(nil), mu...),
		events: append(models.EventProbabilityVector(nil), events...),
	}
	e.queue = append(e.queue, entry)
	if len(e.queue) > e.cfg.ContrastiveQueueSize {
		e.queue = e.queue[1:]
	}
}

func (e *Encoder) stepAll() {
	lr, clip := e.cfg.LearningRate, e.cfg.GradClip
	e.enc.step(lr, clip)
	e.muHead.step(lr, clip)
	e.lvHead.step(lr, clip)
	e.dec.step(lr, clip)
	e.out.step(lr, clip)
}

func (e *Encoder) clearGrads() {
	e.enc.clearGrads()
	e.muHead.clearGrads()
	e.lvHead.clearGrads()
	e.dec.clearGrads()
	e.out.clearGrads()
}

type encoderDTO struct {
	Step   int64    `json:"step"`
	Enc    layerDTO `json:"enc"`
	MuHead layerDTO `json:"mu_head"`
	LvHead layerDTO `json:"lv_head"`
	Dec    layerDTO `json:"dec"`
	Out    layerDTO `json:"out"`
}

// Snapshot serializes the trainable parameters and step counter.
func (e *Encoder) Snapshot() ([]byte, error) {
	return json.Marshal(encoderDTO{
		Step:   e.step,
		Enc:    e.enc.dto(),
		MuHead: e.muHead.dto(),
		LvHead: e.lvHead.dto(),
		Dec:    e.dec.dto(),
		Out:    e.out.dto(),
	})
}

// Restore loads a snapshot produced by Snapshot.
func (e *Encoder) Restore(data []byte) error {
	var dto encoderDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return fmt.Errorf("%w: decoding encoder snapshot: %v", ErrConfig, err)
	}
	for _, pair := range []struct {
		l *denseLayer
		d layerDTO
	}{
		{e.enc, dto.Enc}, {e.muHead, dto.MuHead}, {e.lvHead, dto.LvHead}, {e.dec, dto.Dec}, {e.out, dto.Out},
	} {
		if err := pair.l.restore(pair.d); err != nil {
			return err
		}
	}
	e.step = dto.Step
	return nil
}
