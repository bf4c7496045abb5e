// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodes

import (
	"math"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/engine"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

// ShouldContinue is the Evolution node's outgoing edge. The run ends when
// the iteration budget is spent, no strategy remains active, or the spatial
// entropy has stabilised. The first iteration never converges: no previous
// entropy exists to compare against.
func ShouldContinue(st *state.RunState) string {
	if st.IterationCount >= st.Config.MaxIterations {
		return engine.End
	}
	if len(st.ActiveStrategies()) == 0 {
		return engine.End
	}
	if st.SpatialEntropy != nil && st.PrevSpatialEntropy != nil {
		e := *st.SpatialEntropy
		pe := *st.PrevSpatialEntropy
		denom := math.Max(math.Max(math.Abs(e), math.Abs(pe)), 1)
		if math.Abs(e-pe)/denom < st.Config.EntropyChangeThreshold {
			return engine.End
		}
	}
	return NodePropagation
}
