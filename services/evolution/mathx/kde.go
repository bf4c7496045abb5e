// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mathx implements the numeric core of the evolution loop: pairwise
// distances, adaptive Gaussian KDE, effective temperature, UCB ranking, and
// Boltzmann child allocation.
//
// All operations take an (N, D) matrix of row vectors. Functions are pure
// and allocation-light; callers own concurrency.
package mathx

import (
	"log/slog"
	"math"
	"sort"
)

// =============================================================================
// Pairwise Distances
// =============================================================================

// PairwiseDistSq computes the (N, N) matrix of squared Euclidean distances
// via the Gram identity:
//
//	dist²(i,j) = ‖x_i‖² + ‖x_j‖² − 2·x_iᵀx_j
//
// Round-off can push entries slightly negative; results are floored at 0 and
// the diagonal is exactly 0.
func PairwiseDistSq(x [][]float64) [][]float64 {
	n := len(x)
	norms := make([]float64, n)
	for i, row := range x {
		s := 0.0
		for _, v := range row {
			s += v * v
		}
		norms[i] = s
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := norms[i] + norms[j] - 2*dot(x[i], x[j])
			if d < 0 {
				d = 0
			}
			out[i][j] = d
			out[j][i] = d
		}
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// =============================================================================
// Adaptive Bandwidth
// =============================================================================

// AdaptiveBandwidth derives the Gaussian kernel length scale from the median
// off-diagonal pairwise distance. Silverman's rule is unreliable in the
// high-D embedding spaces this system targets; the median keeps the kernel
// at e⁻¹ around the typical pair:
//
//	h = median(dist) / √2  so that  exp(−d²/2h²) ≈ e⁻¹ at d = median.
//
// Degenerate inputs: N ≤ 1 returns 1.0; a collapsed population (median
// below 1e-10) returns 1e-3.
func AdaptiveBandwidth(distSq [][]float64) float64 {
	n := len(distSq)
	if n <= 1 {
		return 1.0
	}

	dists := make([]float64, 0, n*(n-1))
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				dists = append(dists, math.Sqrt(distSq[i][j]))
			}
		}
	}

	m := median(dists)
	if m < 1e-10 {
		return 1e-3
	}
	return m / math.Sqrt2
}

func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

// =============================================================================
// Log-Sum-Exp
// =============================================================================

// LogSumExp computes log(Σ exp(x_i)) with the max-shift trick so neither
// overflow nor underflow occurs for the magnitudes KDE produces
// (D ≤ 4096, N ≤ 32).
func LogSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	max := xs[0]
	for _, v := range xs[1:] {
		if v > max {
			max = v
		}
	}
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}
	sum := 0.0
	for _, v := range xs {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}

// =============================================================================
// Gaussian KDE
// =============================================================================

// KDELogDensities computes the leave-one-in Gaussian KDE log-density of
// every row of x against the whole population:
//
//	log p_i = −log N + logsumexp_j [ −(D/2)·log(2π) − D·log h − dist²_ij / (2h²) ]
//
// Including j = i keeps every point's own kernel mass in its estimate, so
// densities stay finite for singleton clusters.
//
// A warning is logged when D > 100 and N < D; the estimate is poorly
// conditioned in that regime and downstream scores should be read as
// ordering hints only.
func KDELogDensities(x [][]float64, h float64, logger *slog.Logger) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	d := len(x[0])

	if d > 100 && n < d && logger != nil {
		logger.Warn("kde underdetermined: fewer points than dimensions",
			"n", n, "d", d)
	}

	distSq := PairwiseDistSq(x)
	logCoef := -float64(d)/2*math.Log(2*math.Pi) - float64(d)*math.Log(h)
	twoH2 := 2 * h * h
	logN := math.Log(float64(n))

	out := make([]float64, n)
	terms := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			terms[j] = logCoef - distSq[i][j]/twoH2
		}
		out[i] = -logN + LogSumExp(terms)
	}
	return out
}

// SpatialEntropy is the differential-entropy proxy −mean(log p). Negative
// values are normal in high D.
func SpatialEntropy(logDensities []float64) float64 {
	if len(logDensities) == 0 {
		return 0
	}
	sum := 0.0
	for _, lp := range logDensities {
		sum += lp
	}
	return -sum / float64(len(logDensities))
}
