// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathx

import (
	"math"
	"testing"
)

func TestEffectiveTemperature_RecoverInverseSlope(t *testing.T) {
	// For log p = k·V + b, T_eff must equal 1/|k| within 1%.
	for _, k := range []float64{1, 2, 5, 10, -2} {
		values := make([]float64, 50)
		logp := make([]float64, 50)
		for i := range values {
			values[i] = 0.02 * float64(i)
			logp[i] = k*values[i] + 0.7
		}
		got := EffectiveTemperature(values, logp)
		want := 1 / math.Abs(k)
		if math.Abs(got-want)/want > 0.01 {
			t.Errorf("k=%v: T_eff = %v, want %v within 1%%", k, got, want)
		}
	}
}

func TestEffectiveTemperature_Seeded(t *testing.T) {
	// V = 0.1·i for i = 0..99, log p = 2·V + 0.5 recovers T_eff = 0.5.
	values := make([]float64, 100)
	logp := make([]float64, 100)
	for i := range values {
		values[i] = 0.1 * float64(i)
		logp[i] = 2*values[i] + 0.5
	}
	got := EffectiveTemperature(values, logp)
	if math.Abs(got-0.5)/0.5 > 0.01 {
		t.Errorf("T_eff = %v, want 0.5 within 1%%", got)
	}
}

func TestEffectiveTemperature_FlatRegime(t *testing.T) {
	// Densities unrelated to values with zero covariance.
	values := []float64{0.1, 0.2, 0.3, 0.4}
	logp := []float64{-1, -1, -1, -1}
	if got := EffectiveTemperature(values, logp); !math.IsInf(got, 1) {
		t.Errorf("T_eff = %v, want +Inf on zero covariance", got)
	}
}

func TestEffectiveTemperature_TooFewPoints(t *testing.T) {
	if got := EffectiveTemperature([]float64{1}, []float64{-1}); !math.IsInf(got, 1) {
		t.Errorf("T_eff = %v, want +Inf for N < 2", got)
	}
	if got := EffectiveTemperature(nil, nil); !math.IsInf(got, 1) {
		t.Errorf("T_eff = %v, want +Inf for empty", got)
	}
	if got := EffectiveTemperature([]float64{1, 2}, []float64{-1}); !math.IsInf(got, 1) {
		t.Errorf("T_eff = %v, want +Inf on length mismatch", got)
	}
}

func TestNormalizedTemperature(t *testing.T) {
	if got := NormalizedTemperature(1.0, 2.0); got != 0.5 {
		t.Errorf("tau = %v, want 0.5", got)
	}
	if got := NormalizedTemperature(math.Inf(1), 2.0); !math.IsInf(got, 1) {
		t.Errorf("tau = %v, want +Inf passthrough", got)
	}
}

func TestClampTemperature(t *testing.T) {
	tests := []struct {
		name string
		t    float64
		max  float64
		want float64
	}{
		{"in range", 1.5, 10, 1.5},
		{"above max", 20, 10, 10},
		{"infinite", math.Inf(1), 10, 10},
		{"nan", math.NaN(), 10, 10},
		{"negative", -1, 10, 0},
		{"bad max falls back", math.Inf(1), 0, 1e9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t2 *testing.T) {
			if got := ClampTemperature(tt.t, tt.max); got != tt.want {
				t2.Errorf("ClampTemperature(%v, %v) = %v, want %v", tt.t, tt.max, got, tt.want)
			}
		})
	}
}
