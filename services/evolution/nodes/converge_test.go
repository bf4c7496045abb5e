// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"testing"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/engine"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

func TestShouldContinueFirstIteration(t *testing.T) {
	st := seededState("p", activeStrategy("a", 0.5))
	st.IterationCount = 1
	st.SpatialEntropy = state.Ptr(1.0)
	// No previous entropy yet: one sample says nothing about stability.
	if got := ShouldContinue(st); got != NodePropagation {
		t.Errorf("first iteration routed to %q, want propagation", got)
	}
}

func TestShouldContinueStopsAtIterationBudget(t *testing.T) {
	st := seededState("p", activeStrategy("a", 0.5))
	st.Config.MaxIterations = 3
	st.IterationCount = 3
	if got := ShouldContinue(st); got != engine.End {
		t.Errorf("exhausted budget routed to %q, want end", got)
	}
}

func TestShouldContinueStopsWithoutActives(t *testing.T) {
	folded := activeStrategy("a", 0.5)
	folded.Status = state.StatusPrunedSynthesized
	folded.PrunedAtReportVersion = 1
	st := seededState("p", folded)
	st.IterationCount = 1
	if got := ShouldContinue(st); got != engine.End {
		t.Errorf("no actives routed to %q, want end", got)
	}
}

func TestShouldContinueNearZeroEntropyConvergence(t *testing.T) {
	// Entropies hovering near zero: the relative change must be measured
	// against a floor of 1, not against the tiny magnitudes themselves.
	st := seededState("p", activeStrategy("a", 0.5))
	st.Config.EntropyChangeThreshold = 0.10
	st.IterationCount = 2
	st.SpatialEntropy = state.Ptr(-0.51)
	st.PrevSpatialEntropy = state.Ptr(-0.50)
	if got := ShouldContinue(st); got != engine.End {
		t.Errorf("near-zero entropy drift routed to %q, want end", got)
	}
}

func TestShouldContinueLargeEntropySwing(t *testing.T) {
	st := seededState("p", activeStrategy("a", 0.5))
	st.Config.EntropyChangeThreshold = 0.05
	st.IterationCount = 2
	st.SpatialEntropy = state.Ptr(3.0)
	st.PrevSpatialEntropy = state.Ptr(2.0)
	if got := ShouldContinue(st); got != NodePropagation {
		t.Errorf("a third of the entropy moved; routed to %q, want propagation", got)
	}
}
