// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

func TestArchitectSchedulesModelDecisions(t *testing.T) {
	a := activeStrategy("A", 0.8)
	b := activeStrategy("B", 0.6)
	st := seededState("p", a, b)

	backend := inference.NewScripted(fmt.Sprintf(`{"decisions": [
		{"strategy_id": "%s", "kind": "refine", "executor_instruction": "dig deeper"},
		{"strategy_id": "%s", "kind": "generate_variant", "executor_instruction": "try a twist"}
	]}`, a.ID, b.ID))
	node := NewArchitect(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.ArchitectDecisions) != 2 {
		t.Fatalf("decisions = %d, want 2", len(delta.ArchitectDecisions))
	}
	if d := delta.ArchitectDecisions[0]; d.Kind != state.DecisionRefine || d.StrategyID != a.ID {
		t.Errorf("first decision = %+v", d)
	}
	if d := delta.ArchitectDecisions[1]; d.Kind != state.DecisionGenerateVariant {
		t.Errorf("second decision = %+v", d)
	}
	historyContains(t, delta.History, "Scheduled 2 decisions for 2 pending strategies")
}

func TestArchitectRanksPendingByUCB(t *testing.T) {
	low := activeStrategy("Low", 0.9)
	low.UCBScore = state.Ptr(0.5)
	high := activeStrategy("High", 0.1)
	high.UCBScore = state.Ptr(2.0)
	st := seededState("p", low, high)

	backend := inference.NewScripted(fmt.Sprintf(
		`{"decisions": [{"strategy_id": "%s", "kind": "refine", "executor_instruction": "go"}]}`, low.ID))
	node := NewArchitect(scriptedDeps(backend))

	if _, err := node.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	prompt := backend.Calls()[0].Prompt
	if strings.Index(prompt, high.ID) > strings.Index(prompt, low.ID) {
		t.Errorf("scheduling prompt must rank by UCB, high first:\n%s", prompt)
	}
}

func TestArchitectCoercesAndDropsDecisions(t *testing.T) {
	a := activeStrategy("A", 0.8)
	gone := activeStrategy("Gone", 0.5)
	gone.Status = state.StatusPruned
	st := seededState("p", a, gone)

	backend := inference.NewScripted(fmt.Sprintf(`{"decisions": [
		{"strategy_id": "%s", "kind": "improvise", "executor_instruction": ""},
		{"strategy_id": "%s", "kind": "refine", "executor_instruction": "x"},
		{"kind": "synthesize", "executor_instruction": "fold"}
	]}`, a.ID, gone.ID))
	node := NewArchitect(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.ArchitectDecisions) != 1 {
		t.Fatalf("decisions = %+v, want only the coerced refine", delta.ArchitectDecisions)
	}
	d := delta.ArchitectDecisions[0]
	if d.Kind != state.DecisionRefine || d.StrategyID != a.ID {
		t.Errorf("unknown kind must coerce to refine on the same target: %+v", d)
	}
	if d.ExecutorInstruction != fallbackInstruction {
		t.Errorf("blank instruction must pick up the fallback: %q", d.ExecutorInstruction)
	}
}

func TestArchitectFallsBackToSingleRefine(t *testing.T) {
	a := activeStrategy("A", 0.8)
	a.UCBScore = state.Ptr(2.0)
	b := activeStrategy("B", 0.6)
	b.UCBScore = state.Ptr(1.0)
	st := seededState("p", a, b)

	backend := inference.NewScripted()
	backend.GenerateErr = errors.New("backend down")
	node := NewArchitect(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("scheduling failure must degrade, not fail the node: %v", err)
	}
	if len(delta.ArchitectDecisions) != 1 {
		t.Fatalf("decisions = %+v, want one fallback refine", delta.ArchitectDecisions)
	}
	if d := delta.ArchitectDecisions[0]; d.StrategyID != a.ID {
		t.Errorf("fallback must target the top-ranked strategy, got %+v", d)
	}
	historyContains(t, delta.History, "Scheduling call failed")
}

func TestArchitectDrainsForcedDirectives(t *testing.T) {
	a := activeStrategy("A", 0.8)
	b := activeStrategy("B", 0.6)
	st := seededState("p", a, b)

	backend := inference.NewScripted(fmt.Sprintf(
		`{"decisions": [{"strategy_id": "%s", "kind": "refine", "executor_instruction": "go"}]}`, a.ID))
	asker := &stubAsker{response: "no"}
	queue := &staticQueue{items: []SynthesisDirective{{StrategyIDs: []string{a.ID, b.ID}}}}
	deps := scriptedDeps(backend)
	deps.Directives = queue
	deps.Asker = asker
	deps.SynthesisReviewTimeout = time.Second
	node := NewArchitect(deps)

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.ArchitectDecisions) != 2 {
		t.Fatalf("decisions = %+v, want forced synthesize then model refine", delta.ArchitectDecisions)
	}
	forced := delta.ArchitectDecisions[0]
	if forced.Kind != state.DecisionSynthesize || len(forced.SynthesisIDs) != 2 {
		t.Errorf("forced decision = %+v", forced)
	}
	if forced.ExecutorInstruction == "" {
		t.Errorf("forced directive must carry a default message")
	}
	if asker.asked != 0 {
		t.Errorf("operator-forced rounds skip human review, asked %d times", asker.asked)
	}
	if len(queue.items) != 0 {
		t.Errorf("directives not drained")
	}
	historyContains(t, delta.History, "operator-forced synthesis")
}

func TestArchitectSynthesisVetoDowngradesToRefine(t *testing.T) {
	a := activeStrategy("A", 0.8)
	b := activeStrategy("B", 0.6)
	st := seededState("p", a, b)

	backend := inference.NewScripted(fmt.Sprintf(`{"decisions": [
		{"strategy_id": "%s", "kind": "synthesize", "synthesis_ids": ["%s", "%s"], "executor_instruction": "fold"},
		{"kind": "synthesize", "synthesis_ids": ["%s"], "executor_instruction": "fold too"}
	]}`, a.ID, a.ID, b.ID, b.ID))
	asker := &stubAsker{response: "No, keep exploring."}
	deps := scriptedDeps(backend)
	deps.Asker = asker
	deps.SynthesisReviewTimeout = time.Second
	node := NewArchitect(deps)

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if asker.asked != 1 {
		t.Fatalf("asked = %d, want one review question", asker.asked)
	}
	if len(delta.ArchitectDecisions) != 1 {
		t.Fatalf("decisions = %+v, want the anchored synthesize downgraded and the anchorless dropped",
			delta.ArchitectDecisions)
	}
	d := delta.ArchitectDecisions[0]
	if d.Kind != state.DecisionRefine || d.StrategyID != a.ID {
		t.Errorf("veto must downgrade to refine on the anchor: %+v", d)
	}
	historyContains(t, delta.History, "Synthesis deferred by operator review")
}

func TestArchitectTimeoutSentinelDoesNotVeto(t *testing.T) {
	a := activeStrategy("A", 0.8)
	st := seededState("p", a)

	backend := inference.NewScripted(fmt.Sprintf(
		`{"decisions": [{"strategy_id": "%s", "kind": "synthesize", "synthesis_ids": ["%s"], "executor_instruction": "fold"}]}`,
		a.ID, a.ID))
	asker := &stubAsker{response: "[No human response within timeout - proceeding with best judgment]"}
	deps := scriptedDeps(backend)
	deps.Asker = asker
	deps.SynthesisReviewTimeout = time.Second
	node := NewArchitect(deps)

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.ArchitectDecisions) != 1 || delta.ArchitectDecisions[0].Kind != state.DecisionSynthesize {
		t.Fatalf("timeout must proceed with synthesis: %+v", delta.ArchitectDecisions)
	}
}

func TestArchitectNoPendingMakesNoCall(t *testing.T) {
	busy := activeStrategy("Busy", 0.8)
	busy.ChildQuota = 2
	st := seededState("p", busy)

	backend := inference.NewScripted()
	node := NewArchitect(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(backend.Calls()) != 0 {
		t.Errorf("no pending strategies must mean no scheduling call")
	}
	if len(delta.ArchitectDecisions) != 0 {
		t.Errorf("decisions = %+v", delta.ArchitectDecisions)
	}
}
