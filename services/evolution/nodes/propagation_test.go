// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

func childJSON(name, summary string) string {
	return `{"strategy_name": "` + name + `", "rationale": "r", "initial_assumption": "a", "change_summary": "` + summary + `"}`
}

func TestPropagationExpandsParentsByQuota(t *testing.T) {
	p1 := activeStrategy("P1", 0.8)
	p1.ChildQuota = 2
	p2 := activeStrategy("P2", 0.6)
	p2.ChildQuota = 1
	idle := activeStrategy("Idle", 0.4)
	st := seededState("p", p1, p2, idle)
	st.SpatialEntropy = state.Ptr(1.0)

	backend := inference.NewScripted(
		childJSON("C1", "Narrowed the scope"),
		childJSON("C2", "Inverted the assumption"),
		childJSON("C3", "Changed the channel"),
	)
	node := NewPropagation(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.Strategies) != 6 {
		t.Fatalf("strategies = %d, want 3 originals + 3 children", len(delta.Strategies))
	}

	parent := findByName(t, delta.Strategies, "P1")
	if parent.Status != state.StatusExpanded || parent.ChildQuota != 0 {
		t.Errorf("parent P1 status=%q quota=%d", parent.Status, parent.ChildQuota)
	}
	if last := parent.Trajectory[len(parent.Trajectory)-1]; !strings.Contains(last, "Expanded with 2 children") {
		t.Errorf("parent trajectory tail = %q", last)
	}
	if s := findByName(t, delta.Strategies, "Idle"); s.Status != state.StatusActive {
		t.Errorf("quota-less strategy must stay active, got %q", s.Status)
	}

	child := findByName(t, delta.Strategies, "C1")
	if child.ParentID != parent.ID {
		t.Errorf("child parent id = %q", child.ParentID)
	}
	if child.Status != state.StatusActive {
		t.Errorf("child status = %q", child.Status)
	}
	last := child.Trajectory[len(child.Trajectory)-1]
	if !strings.Contains(last, "Narrowed the scope") {
		t.Errorf("child trajectory tail = %q, want the change summary", last)
	}
	for _, step := range child.Trajectory {
		if strings.Contains(step, "Expanded with") {
			t.Errorf("child inherited the parent's expansion step: %v", child.Trajectory)
		}
	}
	historyContains(t, delta.History, "Produced 3 children from 2 parents")
}

func TestPropagationLegacyFlatFallback(t *testing.T) {
	// Allocation never ran (no entropy recorded), so the flat
	// children-per-parent quota applies to every active.
	a := activeStrategy("A", 0.5)
	b := activeStrategy("B", 0.5)
	st := seededState("p", a, b)
	st.Config.ChildrenPerParent = 1

	backend := inference.NewScripted(
		childJSON("CA", "x"),
		childJSON("CB", "y"),
	)
	node := NewPropagation(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.Strategies) != 4 {
		t.Fatalf("strategies = %d, want 2 parents + 2 children", len(delta.Strategies))
	}
	historyContains(t, delta.History, "via children_per_parent fallback")
}

func TestPropagationNoFallbackAfterAllocation(t *testing.T) {
	// Quotas of zero after a real allocation round mean the beam excluded
	// everyone on purpose.
	a := activeStrategy("A", 0.5)
	st := seededState("p", a)
	st.SpatialEntropy = state.Ptr(1.0)
	st.Config.ChildrenPerParent = 2

	backend := inference.NewScripted()
	node := NewPropagation(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(backend.Calls()) != 0 {
		t.Errorf("no quota must mean no generation calls")
	}
	historyContains(t, delta.History, "nothing to propagate")
}

func TestPropagationSkipsFailedChildren(t *testing.T) {
	p1 := activeStrategy("P1", 0.8)
	p1.ChildQuota = 2
	st := seededState("p", p1)
	st.SpatialEntropy = state.Ptr(1.0)

	backend := inference.NewScripted(
		childJSON("C1", "ok"),
		"this is not a proposal",
	)
	node := NewPropagation(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("one bad child must not fail the node: %v", err)
	}
	if len(delta.Strategies) != 2 {
		t.Fatalf("strategies = %d, want parent + 1 surviving child", len(delta.Strategies))
	}
	historyContains(t, delta.History, "1 child generations skipped")
}

func TestPropagationManualCouplingAndFloor(t *testing.T) {
	p1 := activeStrategy("P1", 0.8)
	p1.ChildQuota = 1
	st := seededState("p", p1)
	st.SpatialEntropy = state.Ptr(1.0)
	st.Config.PropagationTempFloor = 0.3

	backend := inference.NewScripted(childJSON("C1", "x"))
	deps := scriptedDeps(backend)
	deps.Coupling = ManualCoupling{Temp: 0.01}
	node := NewPropagation(deps)

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	historyContains(t, delta.History, "llm_temp=0.30")
	calls := backend.Calls()
	if len(calls) != 1 || calls[0].Temperature != 0.3 {
		t.Fatalf("generation temperature = %+v, want the floor", calls)
	}
}

func TestPropagationCancelledContext(t *testing.T) {
	p1 := activeStrategy("P1", 0.8)
	p1.ChildQuota = 1
	st := seededState("p", p1)
	st.SpatialEntropy = state.Ptr(1.0)

	node := NewPropagation(scriptedDeps(inference.NewScripted()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := node.Run(ctx, st); err == nil {
		t.Fatal("cancelled context must abort the visit")
	}
}
