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

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// =============================================================================
// Pairwise Distance Tests
// =============================================================================

func TestPairwiseDistSq_KnownValues(t *testing.T) {
	x := [][]float64{
		{0, 0},
		{3, 4},
		{0, 4},
	}
	d := PairwiseDistSq(x)

	if !almostEqual(d[0][1], 25, 1e-12) {
		t.Errorf("d[0][1] = %v, want 25", d[0][1])
	}
	if !almostEqual(d[0][2], 16, 1e-12) {
		t.Errorf("d[0][2] = %v, want 16", d[0][2])
	}
	if !almostEqual(d[1][2], 9, 1e-12) {
		t.Errorf("d[1][2] = %v, want 9", d[1][2])
	}
}

func TestPairwiseDistSq_SymmetricZeroDiagNonNegative(t *testing.T) {
	x := [][]float64{
		{0.1, -0.4, 2.2},
		{1.5, 0.0, -3.1},
		{0.1, -0.4, 2.2}, // duplicate of row 0
		{-2.0, 7.3, 0.5},
	}
	d := PairwiseDistSq(x)

	for i := range d {
		if d[i][i] != 0 {
			t.Errorf("d[%d][%d] = %v, want exact 0", i, i, d[i][i])
		}
		for j := range d[i] {
			if d[i][j] < 0 {
				t.Errorf("d[%d][%d] = %v, negative", i, j, d[i][j])
			}
			if d[i][j] != d[j][i] {
				t.Errorf("asymmetry at (%d,%d): %v vs %v", i, j, d[i][j], d[j][i])
			}
		}
	}
	// Duplicate rows are at distance 0.
	if d[0][2] != 0 {
		t.Errorf("d[0][2] = %v, want 0 for identical rows", d[0][2])
	}
}

// =============================================================================
// Adaptive Bandwidth Tests
// =============================================================================

func TestAdaptiveBandwidth_Degenerate(t *testing.T) {
	if got := AdaptiveBandwidth(nil); got != 1.0 {
		t.Errorf("empty population: h = %v, want 1.0", got)
	}
	if got := AdaptiveBandwidth([][]float64{{0}}); got != 1.0 {
		t.Errorf("single point: h = %v, want 1.0", got)
	}

	// Collapsed population: all points identical.
	x := [][]float64{{1, 1}, {1, 1}, {1, 1}}
	if got := AdaptiveBandwidth(PairwiseDistSq(x)); got != 1e-3 {
		t.Errorf("collapsed population: h = %v, want 1e-3", got)
	}
}

func TestAdaptiveBandwidth_MedianOverSqrt2(t *testing.T) {
	// Two points at distance 2: median = 2, h = 2/sqrt(2) = sqrt(2).
	x := [][]float64{{0, 0}, {2, 0}}
	got := AdaptiveBandwidth(PairwiseDistSq(x))
	if !almostEqual(got, math.Sqrt2, 1e-12) {
		t.Errorf("h = %v, want sqrt(2)", got)
	}
}

func TestAdaptiveBandwidth_ScalesLinearly(t *testing.T) {
	base := [][]float64{
		{0, 0}, {1, 0}, {0, 1}, {2, 3}, {-1, -1},
	}
	h1 := AdaptiveBandwidth(PairwiseDistSq(base))

	for _, alpha := range []float64{2, 5, 10} {
		scaled := make([][]float64, len(base))
		for i, row := range base {
			scaled[i] = make([]float64, len(row))
			for j, v := range row {
				scaled[i][j] = alpha * v
			}
		}
		h2 := AdaptiveBandwidth(PairwiseDistSq(scaled))
		if !almostEqual(h2, alpha*h1, 1e-9*alpha) {
			t.Errorf("alpha=%v: h = %v, want %v", alpha, h2, alpha*h1)
		}
	}
}

// =============================================================================
// Log-Sum-Exp Tests
// =============================================================================

func TestLogSumExp(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"empty", nil, math.Inf(-1)},
		{"single", []float64{3.5}, 3.5},
		{"two equal", []float64{0, 0}, math.Log(2)},
		{"all neg inf", []float64{math.Inf(-1), math.Inf(-1)}, math.Inf(-1)},
		{"large magnitudes", []float64{1000, 1000}, 1000 + math.Log(2)},
		{"tiny magnitudes", []float64{-1000, -1000}, -1000 + math.Log(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogSumExp(tt.in)
			if math.IsInf(tt.want, -1) {
				if !math.IsInf(got, -1) {
					t.Errorf("LogSumExp = %v, want -Inf", got)
				}
				return
			}
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("LogSumExp = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogSumExp_NoOverflowHighDimensions(t *testing.T) {
	// KDE magnitudes at the documented limits: D = 4096, N = 32.
	const dims = 4096
	const n = 32

	x := make([][]float64, n)
	for i := range x {
		x[i] = make([]float64, dims)
		for j := range x[i] {
			// Deterministic spread; no randomness needed for a finiteness check.
			x[i][j] = math.Sin(float64(i*dims+j)) * 3
		}
	}
	h := AdaptiveBandwidth(PairwiseDistSq(x))
	logp := KDELogDensities(x, h, nil)

	for i, lp := range logp {
		if math.IsNaN(lp) || math.IsInf(lp, 0) {
			t.Fatalf("logp[%d] = %v, want finite", i, lp)
		}
	}
}

// =============================================================================
// KDE Tests
// =============================================================================

func TestKDELogDensities_IdenticalPointsShareDensity(t *testing.T) {
	x := [][]float64{{1, 2}, {1, 2}, {1, 2}}
	logp := KDELogDensities(x, 1.0, nil)

	if len(logp) != 3 {
		t.Fatalf("len = %d, want 3", len(logp))
	}
	if logp[0] != logp[1] || logp[1] != logp[2] {
		t.Errorf("identical points must share density: %v", logp)
	}
}

func TestKDELogDensities_SinglePoint(t *testing.T) {
	logp := KDELogDensities([][]float64{{0, 0}}, 1.0, nil)
	// log p = -log 1 + (-(2/2)·log(2π) - 2·log 1 - 0) = -log(2π)
	want := -math.Log(2 * math.Pi)
	if !almostEqual(logp[0], want, 1e-12) {
		t.Errorf("logp = %v, want %v", logp[0], want)
	}
}

func TestKDELogDensities_OutliersLessDense(t *testing.T) {
	// Three clustered points and two far outliers.
	x := [][]float64{
		{0, 0}, {0.1, 0.1}, {-0.1, 0},
		{2, 2}, {-2, 2},
	}
	h := AdaptiveBandwidth(PairwiseDistSq(x))
	logp := KDELogDensities(x, h, nil)

	for _, cluster := range []int{0, 1, 2} {
		for _, outlier := range []int{3, 4} {
			if logp[outlier] >= logp[cluster] {
				t.Errorf("logp[%d]=%v should be below cluster logp[%d]=%v",
					outlier, logp[outlier], cluster, logp[cluster])
			}
		}
	}
}

func TestSpatialEntropy(t *testing.T) {
	if got := SpatialEntropy(nil); got != 0 {
		t.Errorf("entropy of empty = %v, want 0", got)
	}
	got := SpatialEntropy([]float64{-1, -2, -3})
	if !almostEqual(got, 2, 1e-12) {
		t.Errorf("entropy = %v, want 2", got)
	}
	// Positive log-densities (very dense, low-D) give negative entropy.
	if got := SpatialEntropy([]float64{0.5, 0.5}); !almostEqual(got, -0.5, 1e-12) {
		t.Errorf("entropy = %v, want -0.5", got)
	}
}
