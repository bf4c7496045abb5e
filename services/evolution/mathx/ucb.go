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

const (
	// rangeEpsilon widens the value range denominator and decides when the
	// range is too narrow to be informative.
	rangeEpsilon = 1e-9

	// densityFloor keeps the exploration term finite for vanishing density.
	densityFloor = 1e-9

	// tauCeiling bounds the exploration multiplier when the temperature is
	// effectively infinite, preserving rank order instead of producing ties
	// at +Inf.
	tauCeiling = 1e6
)

// UCBScore carries the component breakdown of one strategy's ranking score,
// kept for transparency in logs and trajectories.
type UCBScore struct {
	// Exploitation is the min-max normalized value term in [0,1], or 0.5
	// when the population's value range is uninformative.
	Exploitation float64 `json:"exploitation"`

	// Exploration is c · tau / √max(p, 1e-9).
	Exploration float64 `json:"exploration"`

	// Score is Exploitation + Exploration.
	Score float64 `json:"score"`
}

// UCBScores ranks strategies by normalized value plus a density-driven
// exploration bonus.
//
// Description:
//
//	For each strategy:
//	  score_i = (V_i − V_min)/(V_max − V_min + ε) + c · tau / √max(p_i, 1e-9)
//	When V_max − V_min < ε the exploitation term collapses to 0.5 for every
//	strategy (the range carries no information). tau above 1e6 or non-finite
//	is clamped so that crowding alone decides the order in the flat regime.
//
// Inputs:
//   - values: Judge scores per strategy.
//   - densities: matching KDE densities p_i.
//   - cExplore: exploration constant c.
//   - tau: normalized temperature T_eff / T_max.
//
// Outputs:
//   - []UCBScore: per-strategy breakdown, same order as the inputs.
func UCBScores(values, densities []float64, cExplore, tau float64) []UCBScore {
	n := len(values)
	if n == 0 {
		return nil
	}
	if math.IsNaN(tau) || math.IsInf(tau, 1) || tau > tauCeiling {
		tau = tauCeiling
	}
	if tau < 0 {
		tau = 0
	}

	vMin, vMax := values[0], values[0]
	for _, v := range values[1:] {
		if v < vMin {
			vMin = v
		}
		if v > vMax {
			vMax = v
		}
	}
	vRange := vMax - vMin
	flat := vRange < rangeEpsilon

	out := make([]UCBScore, n)
	for i := 0; i < n; i++ {
		var exploit float64
		if flat {
			exploit = 0.5
		} else {
			exploit = (values[i] - vMin) / (vRange + rangeEpsilon)
		}

		p := densities[i]
		if p < densityFloor {
			p = densityFloor
		}
		explore := cExplore * tau / math.Sqrt(p)

		out[i] = UCBScore{
			Exploitation: exploit,
			Exploration:  explore,
			Score:        exploit + explore,
		}
	}
	return out
}
