package learn

import (
	"errors"
	"math"
	"testing"
)

func TestSanitizeLoss(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{"valid", 1.5, false},
		{"zero", 0, false},
		{"nan", math.NaN(), true},
		{"pos inf", math.Inf(1), true},
		{"neg inf", math.Inf(-1), true},
		{"negative", -0.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sanitizeLoss("test", tt.value)
			if tt.wantErr && !errors.Is(err, ErrNumericInstability) {
				t.Errorf("got err %v, want ErrNumericInstability", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSanitizeVec(t *testing.T) {
	if err := sanitizeVec("ok", []float64{1, -2, 0.5}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := sanitizeVec("bad", []float64{1, math.NaN()}); !errors.Is(err, ErrNumericInstability) {
		t.Errorf("got err %v, want ErrNumericInstability", err)
	}
}

func TestClampLogVar(t *testing.T) {
	lv := []float64{-50, 0, 50}
	clampLogVar(lv)
	if lv[0] != logVarMin || lv[1] != 0 || lv[2] != logVarMax {
		t.Errorf("clampLogVar got %v", lv)
	}
}

func TestClipVec(t *testing.T) {
	v := []float64{-10, 0.5, 10}
	clipVec(v, 2)
	if v[0] != -2 || v[1] != 0.5 || v[2] != 2 {
		t.Errorf("clipVec got %v", v)
	}
}
