package learn

import (
	"fmt"
	"math"
)

// Numeric guards applied at the boundary of every loss computation.
// Centralized here so stability handling is uniform instead of scattered
// through the training code.

// logVar values are clamped to this range before exponentiation.
// exp(10) ~ 22026 variance is already far outside anything the model should
// produce; beyond it gradients are garbage anyway.
const (
	logVarMin = -10.0
	logVarMax = 10.0
)

// sanitizeLoss validates a loss value at a computation boundary.
func sanitizeLoss(name string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s is %v", ErrNumericInstability, name, v)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %s is negative: %f", ErrNumericInstability, name, v)
	}
	return v, nil
}

// sanitizeVec rejects any non-finite element.
func sanitizeVec(name string, v []float64) error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s dim %d is %v", ErrNumericInstability, name, i, x)
		}
	}
	return nil
}

// clampLogVar bounds a log-variance vector in place.
func clampLogVar(lv []float64) {
	for i, v := range lv {
		lv[i] = clamp(v, logVarMin, logVarMax)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clipVec bounds every element of v to [-limit, limit] in place.
func clipVec(v []float64, limit float64) {
	for i, x := range v {
		v[i] = clamp(x, -limit, limit)
	}
}
