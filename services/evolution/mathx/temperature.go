// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mathx

import (
	"math"
)

// covEpsilon is the covariance magnitude below which the value landscape is
// treated as flat.
const covEpsilon = 1e-12

// EffectiveTemperature estimates the population temperature from the slope
// of log p against the Judge value V.
//
// Description:
//
//	Fits the 1-D linear model log p ≈ k·V + c and returns
//	T_eff = |Var(V) / Cov(V, log p)| = 1/|k|. A steep slope means density
//	tracks value tightly (cold, exploitative population); a flat slope means
//	value carries no spatial signal (hot population).
//
// Inputs:
//   - values: Judge scores per strategy.
//   - logDensities: matching KDE log-densities. Lengths must agree.
//
// Outputs:
//   - float64: T_eff. +Inf when fewer than two points or when
//     |Cov(V, log p)| < 1e-12 (flat regime).
func EffectiveTemperature(values, logDensities []float64) float64 {
	n := len(values)
	if n < 2 || n != len(logDensities) {
		return math.Inf(1)
	}

	meanV, meanLP := 0.0, 0.0
	for i := 0; i < n; i++ {
		meanV += values[i]
		meanLP += logDensities[i]
	}
	meanV /= float64(n)
	meanLP /= float64(n)

	varV, cov := 0.0, 0.0
	for i := 0; i < n; i++ {
		dv := values[i] - meanV
		varV += dv * dv
		cov += dv * (logDensities[i] - meanLP)
	}
	varV /= float64(n)
	cov /= float64(n)

	if math.Abs(cov) < covEpsilon {
		return math.Inf(1)
	}
	return math.Abs(varV / cov)
}

// NormalizedTemperature is tau = T_eff / T_max. T_max must be positive;
// non-finite T_eff passes through as +Inf.
func NormalizedTemperature(tEff, tMax float64) float64 {
	if math.IsInf(tEff, 1) {
		return math.Inf(1)
	}
	return tEff / tMax
}

// ClampTemperature bounds a possibly infinite temperature into (0, max] so
// it can be serialized and fed to the UCB exploration term without
// destroying rank order. Non-positive max falls back to 1e9.
func ClampTemperature(t, max float64) float64 {
	if max <= 0 {
		max = 1e9
	}
	if math.IsNaN(t) || math.IsInf(t, 1) || t > max {
		return max
	}
	if t < 0 {
		return 0
	}
	return t
}
