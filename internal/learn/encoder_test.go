package learn

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/hoopmetrics/learning-engine/internal/models"
)

func testEncoderConfig() EncoderConfig {
	return EncoderConfig{
		HiddenSize:      24,
		LearningRate:    0.01,
		GradClip:        5.0,
		BetaMax:         0.5,
		BetaWarmupSteps: 100,
		Seed:            1,
	}
}

func newTestEncoder(t *testing.T) *Encoder {
	t.Helper()
	enc, err := NewEncoder(testEncoderConfig())
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	return enc
}

func randFeatures(seed uint64) models.FeatureVector {
	rng := rand.New(rand.NewSource(seed))
	x := make(models.FeatureVector, models.FeatureDim)
	for i := range x {
		x[i] = rng.Float64()
	}
	return x
}

func uniformEvents() models.EventProbabilityVector {
	e := make(models.EventProbabilityVector, models.EventDim)
	for i := range e {
		e[i] = 1.0 / float64(models.EventDim)
	}
	return e
}

func TestEncodeShape(t *testing.T) {
	enc := newTestEncoder(t)
	lat, err := enc.Encode(randFeatures(2))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := lat.Validate(); err != nil {
		t.Fatalf("latent invalid: %v", err)
	}
	for i, lv := range lat.LogVar {
		if lv < logVarMin || lv > logVarMax {
			t.Errorf("logVar[%d] = %f outside clamp range", i, lv)
		}
	}
}

func TestEncodeRejectsWrongDims(t *testing.T) {
	enc := newTestEncoder(t)
	if _, err := enc.Encode(make(models.FeatureVector, 10)); !errors.Is(err, ErrData) {
		t.Fatalf("got err %v, want ErrData", err)
	}
}

func TestZeroFeaturesProduceFiniteLatent(t *testing.T) {
	enc := newTestEncoder(t)
	x := make(models.FeatureVector, models.FeatureDim)

	lat, err := enc.Encode(x)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for i := 0; i < models.LatentDim; i++ {
		if math.IsNaN(lat.Mu[i]) || math.IsInf(lat.Mu[i], 0) {
			t.Fatalf("mu[%d] = %f not finite", i, lat.Mu[i])
		}
		if math.IsNaN(lat.LogVar[i]) || math.IsInf(lat.LogVar[i], 0) {
			t.Fatalf("logVar[%d] = %f not finite", i, lat.LogVar[i])
		}
	}

	recon, err := enc.Decode(lat)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for i, r := range recon {
		if math.IsNaN(r) || r < 0 || r > 1 {
			t.Fatalf("recon[%d] = %f outside [0,1]", i, r)
		}
	}

	loss, err := enc.Train(x, uniformEvents())
	if err != nil {
		t.Fatalf("Train failed on zero input: %v", err)
	}
	if math.IsNaN(loss.Total) || math.IsInf(loss.Total, 0) {
		t.Errorf("loss = %f, want finite", loss.Total)
	}
}

func TestKLNonNegativeAndZeroAtPrior(t *testing.T) {
	enc := newTestEncoder(t)
	x := make(models.FeatureVector, models.FeatureDim)
	recon := make([]float64, models.FeatureDim)

	constLatent := func(mu, lv float64) models.LatentDistribution {
		lat := models.LatentDistribution{
			Mu:     make([]float64, models.LatentDim),
			LogVar: make([]float64, models.LatentDim),
		}
		for i := range lat.Mu {
			lat.Mu[i] = mu
			lat.LogVar[i] = lv
		}
		return lat
	}

	// KL from the N(0, I) prior is exactly zero only at the prior itself.
	loss, err := enc.Loss(x, recon, constLatent(0, 0))
	if err != nil {
		t.Fatalf("Loss failed: %v", err)
	}
	if loss.KL != 0 {
		t.Errorf("KL at standard normal = %f, want 0", loss.KL)
	}

	cases := []struct {
		name   string
		mu, lv float64
	}{
		{"shifted mean", 1.5, 0},
		{"inflated variance", 0, 1.0},
		{"shrunk variance", 0, -2.0},
		{"shifted and scaled", -0.8, 0.7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loss, err := enc.Loss(x, recon, constLatent(tc.mu, tc.lv))
			if err != nil {
				t.Fatalf("Loss failed: %v", err)
			}
			if loss.KL <= 0 {
				t.Errorf("KL = %f, want > 0 away from the prior", loss.KL)
			}
		})
	}
}

func TestTrainReducesReconstruction(t *testing.T) {
	enc := newTestEncoder(t)
	x := randFeatures(3)
	events := uniformEvents()

	reconLoss := func() float64 {
		lat, err := enc.Encode(x)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		// Deterministic path: decode from mu only.
		zeroVar := models.LatentDistribution{Mu: lat.Mu, LogVar: make([]float64, models.LatentDim)}
		for i := range zeroVar.LogVar {
			zeroVar.LogVar[i] = logVarMin
		}
		recon, err := enc.Decode(zeroVar)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		var mse float64
		for i := range x {
			d := recon[i] - x[i]
			mse += d * d
		}
		return mse / float64(models.FeatureDim)
	}

	before := reconLoss()
	for i := 0; i < 300; i++ {
		if _, err := enc.Train(x, events); err != nil {
			t.Fatalf("Train failed at step %d: %v", i, err)
		}
	}
	after := reconLoss()

	if after >= before {
		t.Errorf("reconstruction loss did not improve: before %f, after %f", before, after)
	}
	if enc.Step() != 300 {
		t.Errorf("step = %d, want 300", enc.Step())
	}
}

func TestBetaAnnealing(t *testing.T) {
	enc := newTestEncoder(t)
	if b := enc.beta(); b != 0 {
		t.Errorf("beta at step 0 = %f, want 0", b)
	}
	enc.step = 50
	if b := enc.beta(); math.Abs(b-0.25) > 1e-9 {
		t.Errorf("beta at half warmup = %f, want 0.25", b)
	}
	enc.step = 1000
	if b := enc.beta(); b != 0.5 {
		t.Errorf("beta past warmup = %f, want BetaMax", b)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	enc := newTestEncoder(t)
	x := randFeatures(4)
	for i := 0; i < 20; i++ {
		if _, err := enc.Train(x, uniformEvents()); err != nil {
			t.Fatalf("Train failed: %v", err)
		}
	}
	data, err := enc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	restored, err := NewEncoder(testEncoderConfig())
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	if err := restored.Restore(data); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Step() != enc.Step() {
		t.Errorf("restored step = %d, want %d", restored.Step(), enc.Step())
	}

	want, err := enc.Encode(x)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := restored.Encode(x)
	if err != nil {
		t.Fatalf("Encode on restored failed: %v", err)
	}
	for i := range want.Mu {
		if math.Abs(want.Mu[i]-got.Mu[i]) > 1e-12 {
			t.Fatalf("mu[%d] differs after restore: %f vs %f", i, want.Mu[i], got.Mu[i])
		}
	}
}

func TestRestoreShapeMismatch(t *testing.T) {
	enc := newTestEncoder(t)
	data, err := enc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	cfg := testEncoderConfig()
	cfg.HiddenSize = 32
	other, err := NewEncoder(cfg)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	if err := other.Restore(data); !errors.Is(err, ErrConfig) {
		t.Fatalf("got err %v, want ErrConfig", err)
	}
}

func TestApplyAuxiliaryGradientMovesEncoding(t *testing.T) {
	enc := newTestEncoder(t)
	x := randFeatures(5)
	before, err := enc.Encode(x)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	gradMu := make([]float64, models.LatentDim)
	gradLv := make([]float64, models.LatentDim)
	for i := range gradMu {
		gradMu[i] = 1.0
	}
	if err := enc.ApplyAuxiliaryGradient(x, gradMu, gradLv, 0.5); err != nil {
		t.Fatalf("ApplyAuxiliaryGradient failed: %v", err)
	}

	after, err := enc.Encode(x)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var moved bool
	for i := range before.Mu {
		if before.Mu[i] != after.Mu[i] {
			moved = true
			break
		}
	}
	if !moved {
		t.Error("auxiliary gradient did not change the encoding")
	}
}

func TestApplyAuxiliaryGradientRejectsNaN(t *testing.T) {
	enc := newTestEncoder(t)
	gradMu := make([]float64, models.LatentDim)
	gradMu[0] = math.NaN()
	gradLv := make([]float64, models.LatentDim)
	err := enc.ApplyAuxiliaryGradient(randFeatures(6), gradMu, gradLv, 0.1)
	if !errors.Is(err, ErrNumericInstability) {
		t.Fatalf("got err %v, want ErrNumericInstability", err)
	}
}

func TestContrastiveQueueBounded(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.Contrastive = true
	cfg.ContrastiveMin = 0
	cfg.ContrastiveMax = 0.1
	cfg.ContrastiveWarmupSteps = 50
	cfg.ContrastiveQueueSize = 8
	cfg.NegativeSamples = 3
	cfg.Temperature = 0.1
	enc, err := NewEncoder(cfg)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	for i := 0; i < 30; i++ {
		if _, err := enc.Train(randFeatures(uint64(i+10)), uniformEvents()); err != nil {
			t.Fatalf("Train failed: %v", err)
		}
	}
	if len(enc.queue) > cfg.ContrastiveQueueSize {
		t.Errorf("queue grew to %d, cap is %d", len(enc.queue), cfg.ContrastiveQueueSize)
	}
}

func TestEncoderConfigValidation(t *testing.T) {
	cfg := testEncoderConfig()
	cfg.LearningRate = 0
	if _, err := NewEncoder(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("got err %v, want ErrConfig", err)
	}
}
