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
	"math/rand"
	"sort"
)

// BoltzmannAllocate distributes an integer child budget across strategies
// proportionally to exp(V_i / T).
//
// Description:
//
//	Weights are computed as w_i = exp((V_i − V_max)/T); the −V_max shift is
//	required for numerical stability and costs nothing after normalization.
//	The IEEE limits make the degenerate regimes fall out of the same form:
//	T → +Inf collapses every exponent to 0 (uniform) and T → 0⁺ sends every
//	non-maximal exponent to −Inf (winner takes all). Only T ≤ 0 needs an
//	explicit argmax branch because 0/0 is NaN.
//
//	Fractional quotas q_i = B·π_i are rounded piecewise: q ≥ 1 takes the
//	ceiling; 0 < q < 1 becomes 1 with probability q (or deterministically
//	when q ≥ 0.5 if rng is nil). Rounding may overshoot B by up to N. If the
//	rounded total falls short of B, quotas are topped up in descending order
//	of fractional remainder, so the total is always ≥ min(B, achievable) and
//	rank order is preserved.
//
// Inputs:
//   - values: per-strategy values V.
//   - budget: total child budget B; non-positive yields all zeros.
//   - tEff: effective temperature T.
//   - minAllocation: per-strategy floor applied last; 0 disables.
//   - rng: randomness for sub-1 rounding; nil selects the deterministic
//     round-half-up rule.
//
// Outputs:
//   - []int: quota per strategy, same order as values.
func BoltzmannAllocate(values []float64, budget int, tEff float64, minAllocation int, rng *rand.Rand) []int {
	n := len(values)
	if n == 0 {
		return nil
	}
	quotas := make([]int, n)
	if budget <= 0 {
		applyFloor(quotas, minAllocation)
		return quotas
	}

	vMax := values[0]
	for _, v := range values[1:] {
		if v > vMax {
			vMax = v
		}
	}

	weights := make([]float64, n)
	switch {
	case math.IsNaN(tEff) || tEff <= 0:
		// Winner takes all; ties at the max split the mass evenly.
		for i, v := range values {
			if v == vMax {
				weights[i] = 1
			}
		}
	default:
		for i, v := range values {
			weights[i] = math.Exp((v - vMax) / tEff)
		}
	}

	z := 0.0
	for _, w := range weights {
		z += w
	}
	if z == 0 {
		// All weights underflowed; fall back to uniform.
		for i := range weights {
			weights[i] = 1
		}
		z = float64(n)
	}

	fractional := make([]float64, n)
	total := 0
	for i, w := range weights {
		q := float64(budget) * w / z
		fractional[i] = q
		switch {
		case q >= 1:
			quotas[i] = int(math.Ceil(q))
		case q > 0:
			if rng != nil {
				if rng.Float64() < q {
					quotas[i] = 1
				}
			} else if q >= 0.5 {
				quotas[i] = 1
			}
		}
		total += quotas[i]
	}

	// Top up when probabilistic rounding lost mass, largest remainder first.
	if total < budget {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			ra := fractional[order[a]] - float64(quotas[order[a]])
			rb := fractional[order[b]] - float64(quotas[order[b]])
			return ra > rb
		})
		for _, i := range order {
			if total >= budget {
				break
			}
			if fractional[i] > 0 {
				quotas[i]++
				total++
			}
		}
	}

	applyFloor(quotas, minAllocation)
	return quotas
}

func applyFloor(quotas []int, floor int) {
	if floor <= 0 {
		return
	}
	for i := range quotas {
		if quotas[i] < floor {
			quotas[i] = floor
		}
	}
}

// CapQuotas zeroes every quota outside the top-k scores, implementing the
// legacy beam-width limit as a post-allocation cap. Ties at the boundary
// keep earlier entries. k ≤ 0 leaves the quotas untouched.
func CapQuotas(quotas []int, scores []float64, k int) {
	n := len(quotas)
	if k <= 0 || k >= n {
		return
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	for _, i := range order[k:] {
		quotas[i] = 0
	}
}
