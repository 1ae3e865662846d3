package learn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type activation int

const (
	actLinear activation = iota
	actTanh
	actSigmoid
)

// denseLayer is a fully connected layer trained online, one sample at a
// time. The forward pass caches its input and pre-activation so backward()
// can be called immediately after.
type denseLayer struct {
	in, out int
	act     activation

	w *mat.Dense    // out x in
	b *mat.VecDense // out

	// forward caches
	x *mat.VecDense
	z *mat.VecDense
	a *mat.VecDense

	// accumulated gradients, cleared by step()
	gw *mat.Dense
	gb *mat.VecDense
}

func newDenseLayer(in, out int, act activation, src rand.Source) *denseLayer {
	// Glorot init keeps early activations in the linear region of tanh.
	limit := math.Sqrt(6.0 / float64(in+out))
	u := distuv.Uniform{Min: -limit, Max: limit, Src: src}

	w := mat.NewDense(out, in, nil)
	for r := 0; r < out; r++ {
		for c := 0; c < in; c++ {
			w.Set(r, c, u.Rand())
		}
	}
	return &denseLayer{
		in:  in,
		out: out,
		act: act,
		w:   w,
		b:   mat.NewVecDense(out, nil),
		gw:  mat.NewDense(out, in, nil),
		gb:  mat.NewVecDense(out, nil),
	}
}

func (l *denseLayer) forward(x []float64) []float64 {
	l.x = mat.NewVecDense(l.in, append([]float64(nil), x...))
	z := mat.NewVecDense(l.out, nil)
	z.MulVec(l.w, l.x)
	z.AddVec(z, l.b)
	l.z = z

	a := mat.NewVecDense(l.out, nil)
	for i := 0; i < l.out; i++ {
		a.SetVec(i, applyAct(l.act, z.AtVec(i)))
	}
	l.a = a
	return a.RawVector().Data
}

// backward accumulates gradients given dL/da and returns dL/dx.
func (l *denseLayer) backward(delta []float64) []float64 {
	dz := mat.NewVecDense(l.out, nil)
	for i := 0; i < l.out; i++ {
		dz.SetVec(i, delta[i]*actDeriv(l.act, l.z.AtVec(i), l.a.AtVec(i)))
	}

	var outer mat.Dense
	outer.Outer(1, dz, l.x)
	l.gw.Add(l.gw, &outer)
	l.gb.AddVec(l.gb, dz)

	dx := mat.NewVecDense(l.in, nil)
	dx.MulVec(l.w.T(), dz)
	return dx.RawVector().Data
}

// step applies the accumulated gradients scaled by lr, with elementwise
// clipping, then clears them.
func (l *denseLayer) step(lr, clip float64) {
	rows, cols := l.gw.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			g := clamp(l.gw.At(r, c), -clip, clip)
			l.w.Set(r, c, l.w.At(r, c)-lr*g)
		}
	}
	for i := 0; i < l.out; i++ {
		g := clamp(l.gb.AtVec(i), -clip, clip)
		l.b.SetVec(i, l.b.AtVec(i)-lr*g)
	}
	l.clearGrads()
}

func (l *denseLayer) clearGrads() {
	l.gw.Zero()
	l.gb.Zero()
}

func applyAct(a activation, z float64) float64 {
	switch a {
	case actTanh:
		return math.Tanh(z)
	case actSigmoid:
		return 1.0 / (1.0 + math.Exp(-z))
	default:
		return z
	}
}

// actDeriv returns d(act)/dz given both z and act(z); tanh and sigmoid
// derivatives come cheap from the cached activation.
func actDeriv(act activation, _ float64, a float64) float64 {
	switch act {
	case actTanh:
		return 1 - a*a
	case actSigmoid:
		return a * (1 - a)
	default:
		return 1
	}
}

// layerDTO is the serialized form of one layer inside a weight snapshot.
type layerDTO struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`
}

func (l *denseLayer) dto() layerDTO {
	return layerDTO{
		In:  l.in,
		Out: l.out,
		W:   append([]float64(nil), l.w.RawMatrix().Data...),
		B:   append([]float64(nil), l.b.RawVector().Data...),
	}
}

func (l *denseLayer) restore(d layerDTO) error {
	if d.In != l.in || d.Out != l.out {
		return fmt.Errorf("%w: layer shape mismatch: snapshot %dx%d, model %dx%d", ErrConfig, d.Out, d.In, l.out, l.in)
	}
	if len(d.W) != l.in*l.out || len(d.B) != l.out {
		return fmt.Errorf("%w: layer payload size mismatch", ErrConfig)
	}
	copy(l.w.RawMatrix().Data, d.W)
	copy(l.b.RawVector().Data, d.B)
	return nil
}
