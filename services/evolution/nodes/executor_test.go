// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

func TestExecutorSynthesizesAndHardPrunes(t *testing.T) {
	a := activeStrategy("A", 0.8)
	b := activeStrategy("B", 0.7)
	st := seededState("p", a, b)
	st.ArchitectDecisions = []state.Decision{{
		Kind:                state.DecisionSynthesize,
		SynthesisIDs:        []string{a.ID, b.ID},
		ExecutorInstruction: "fold both framings",
	}}

	backend := inference.NewScripted(fmt.Sprintf(`{
		"final_report": "Both framings agree on a premium niche entry.",
		"branch_rationales": {
			"%s": "Contributed the pricing analysis.",
			"%s": "Contributed the channel analysis."
		}
	}`, a.ID, b.ID))
	kb := &memKB{}
	deps := scriptedDeps(backend)
	deps.KB = kb
	node := NewExecutor(deps)

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if delta.FinalReport == nil || !strings.Contains(*delta.FinalReport, "premium niche") {
		t.Fatalf("final report = %v", delta.FinalReport)
	}
	if delta.ReportVersion == nil || *delta.ReportVersion != 1 {
		t.Fatalf("report version = %v, want 1", delta.ReportVersion)
	}
	for _, name := range []string{"A", "B"} {
		s := findByName(t, delta.Strategies, name)
		if s.Status != state.StatusPrunedSynthesized {
			t.Errorf("%s status = %q, want pruned_synthesized", name, s.Status)
		}
		if s.PrunedAtReportVersion != 1 {
			t.Errorf("%s pruned at version %d, want 1", name, s.PrunedAtReportVersion)
		}
		if s.ChildQuota != 0 {
			t.Errorf("%s keeps quota %d", name, s.ChildQuota)
		}
		if last := s.Trajectory[len(s.Trajectory)-1]; !strings.Contains(last, "Folded into report v1") {
			t.Errorf("%s trajectory tail = %q", name, last)
		}
	}
	if len(kb.archives) != 2 {
		t.Fatalf("archive writes = %d, want one per contributor", len(kb.archives))
	}
	rec := kb.archives[0]
	if rec.Type != knowledge.TypeBranchArchive {
		t.Errorf("archive type = %q", rec.Type)
	}
	if rec.Metadata["report_version"] != "1" {
		t.Errorf("archive metadata = %v", rec.Metadata)
	}
	if !strings.HasPrefix(rec.Title, "Synthesis of ") {
		t.Errorf("archive title = %q", rec.Title)
	}
	historyContains(t, delta.History, "Applied 1 of 1 decisions")
}

func TestExecutorSecondSynthesisIncrementsVersion(t *testing.T) {
	a := activeStrategy("A", 0.8)
	st := seededState("p", a)
	st.FinalReport = "First draft."
	st.ReportVersion = 1
	st.ArchitectDecisions = []state.Decision{{
		Kind:         state.DecisionSynthesize,
		SynthesisIDs: []string{a.ID},
	}}

	backend := inference.NewScripted(`{"final_report": "Second draft.", "branch_rationales": {}}`)
	node := NewExecutor(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if *delta.ReportVersion != 2 {
		t.Errorf("report version = %d, want 2", *delta.ReportVersion)
	}
	if s := findByName(t, delta.Strategies, "A"); s.PrunedAtReportVersion != 2 {
		t.Errorf("pruned at version %d, want 2", s.PrunedAtReportVersion)
	}
	// The prompt must show the model the report it is revising.
	if prompt := backend.Calls()[0].Prompt; !strings.Contains(prompt, "First draft.") {
		t.Errorf("synthesis prompt missing the current report:\n%s", prompt)
	}
}

func TestExecutorSynthesisKeepsRawWhenUnparseable(t *testing.T) {
	a := activeStrategy("A", 0.8)
	st := seededState("p", a)
	st.ArchitectDecisions = []state.Decision{{
		Kind:         state.DecisionSynthesize,
		SynthesisIDs: []string{a.ID},
	}}

	backend := inference.NewScripted("A plain-prose report the model refused to wrap in JSON.")
	node := NewExecutor(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(*delta.FinalReport, "plain-prose report") {
		t.Errorf("raw reply not kept as the report: %v", *delta.FinalReport)
	}
}

func TestExecutorRefineAppendsAnalysis(t *testing.T) {
	a := activeStrategy("A", 0.8)
	st := seededState("p", a)
	st.ArchitectDecisions = []state.Decision{{
		Kind:                state.DecisionRefine,
		StrategyID:          a.ID,
		ExecutorInstruction: "quantify the niche",
	}}

	backend := inference.NewScripted("The niche holds roughly 40k buyers at the target price.")
	node := NewExecutor(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := findByName(t, delta.Strategies, "A")
	last := s.Trajectory[len(s.Trajectory)-1]
	if !strings.HasPrefix(last, "[Executor] ") || !strings.Contains(last, "40k buyers") {
		t.Errorf("trajectory tail = %q", last)
	}
	if s.Status != state.StatusActive {
		t.Errorf("refine must keep the strategy active, got %q", s.Status)
	}
}

func TestExecutorVariantAddsChild(t *testing.T) {
	a := activeStrategy("A", 0.8)
	a.Milestones = []byte(`[{"name": "m1"}]`)
	st := seededState("p", a)
	st.ArchitectDecisions = []state.Decision{{
		Kind:       state.DecisionGenerateVariant,
		StrategyID: a.ID,
	}}

	backend := inference.NewScripted(
		`{"strategy_name": "A-prime", "rationale": "r", "initial_assumption": "flipped"}`)
	node := NewExecutor(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.Strategies) != 2 {
		t.Fatalf("strategies = %d, want parent + variant", len(delta.Strategies))
	}
	child := findByName(t, delta.Strategies, "A-prime")
	if child.ParentID != a.ID {
		t.Errorf("variant parent id = %q", child.ParentID)
	}
	if len(child.Milestones) == 0 {
		t.Errorf("variant must inherit the parent's milestones")
	}
	if last := child.Trajectory[len(child.Trajectory)-1]; last != "[Executor] Variant" {
		t.Errorf("variant trajectory tail = %q", last)
	}
	if parent := findByName(t, delta.Strategies, "A"); parent.Status != state.StatusActive {
		t.Errorf("variant generation must not touch the parent, got %q", parent.Status)
	}
}

func TestExecutorFailedDecisionDoesNotStopTheRest(t *testing.T) {
	gone := activeStrategy("Gone", 0.5)
	gone.Status = state.StatusPruned
	a := activeStrategy("A", 0.8)
	st := seededState("p", gone, a)
	st.ArchitectDecisions = []state.Decision{
		{Kind: state.DecisionRefine, StrategyID: gone.ID},
		{Kind: state.DecisionRefine, StrategyID: a.ID},
	}

	backend := inference.NewScripted("useful analysis")
	node := NewExecutor(scriptedDeps(backend))

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	historyContains(t, delta.History, "refine failed")
	historyContains(t, delta.History, "Applied 1 of 2 decisions")
	if s := findByName(t, delta.Strategies, "A"); len(s.Trajectory) != 2 {
		t.Errorf("surviving decision did not run: %v", s.Trajectory)
	}
}

func TestExecutorAlwaysDrainsTheQueue(t *testing.T) {
	st := seededState("p", activeStrategy("A", 0.8))

	node := NewExecutor(scriptedDeps(inference.NewScripted()))
	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if delta.ArchitectDecisions == nil || len(delta.ArchitectDecisions) != 0 {
		t.Fatalf("queue not drained: %v", delta.ArchitectDecisions)
	}
	historyContains(t, delta.History, "Nothing scheduled")
}

func TestExecutorCancelledContext(t *testing.T) {
	a := activeStrategy("A", 0.8)
	st := seededState("p", a)
	st.ArchitectDecisions = []state.Decision{{Kind: state.DecisionRefine, StrategyID: a.ID}}

	node := NewExecutor(scriptedDeps(inference.NewScripted()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := node.Run(ctx, st); err == nil {
		t.Fatal("cancelled context must abort execution")
	}
}
