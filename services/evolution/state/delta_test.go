// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"testing"
)

func TestDelta_IsZero(t *testing.T) {
	if !(&Delta{}).IsZero() {
		t.Error("empty delta must be zero")
	}
	var nilDelta *Delta
	if !nilDelta.IsZero() {
		t.Error("nil delta must be zero")
	}
	if (&Delta{JudgeContext: Ptr("x")}).IsZero() {
		t.Error("delta with a field set must not be zero")
	}
	if (&Delta{History: []string{"h"}}).IsZero() {
		t.Error("delta with history must not be zero")
	}
}

func TestApply_ScalarsOverwrite(t *testing.T) {
	st := New("original", DefaultConfig())
	st.ResearchIteration = 1
	st.IterationCount = 2

	st.Apply(&Delta{
		ProblemState:      Ptr("augmented"),
		ResearchContext:   Ptr("findings"),
		ResearchStatus:    Ptr(ResearchSufficient),
		ResearchIteration: Ptr(2),
		JudgeContext:      Ptr("brief"),
		IterationCount:    Ptr(3),
		ReportVersion:     Ptr(1),
		FinalReport:       Ptr("report text"),
	})

	if st.ProblemState != "augmented" {
		t.Errorf("ProblemState = %q", st.ProblemState)
	}
	if st.ResearchContext != "findings" || st.ResearchStatus != ResearchSufficient {
		t.Error("research fields not overwritten")
	}
	if st.ResearchIteration != 2 || st.IterationCount != 3 || st.ReportVersion != 1 {
		t.Error("counters not overwritten")
	}
	if st.JudgeContext != "brief" || st.FinalReport != "report text" {
		t.Error("context fields not overwritten")
	}
}

func TestApply_NilFieldsUntouched(t *testing.T) {
	st := New("keep", DefaultConfig())
	st.ResearchContext = "keep"
	st.Strategies = []Strategy{{ID: "s1", Status: StatusActive}}
	st.History = []string{"h1"}

	st.Apply(&Delta{JudgeContext: Ptr("only this")})

	if st.ProblemState != "keep" || st.ResearchContext != "keep" {
		t.Error("untouched scalars must survive")
	}
	if len(st.Strategies) != 1 || len(st.History) != 1 {
		t.Error("untouched slices must survive")
	}
}

func TestApply_HistoryConcatenates(t *testing.T) {
	st := New("p", DefaultConfig())
	st.History = []string{"first"}

	st.Apply(&Delta{History: []string{"second", "third"}})

	if len(st.History) != 3 || st.History[0] != "first" || st.History[2] != "third" {
		t.Errorf("History = %v, want concatenation", st.History)
	}
}

func TestApply_HistoryRetentionTrims(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryRetention = 3
	st := New("p", cfg)
	st.History = []string{"1", "2", "3"}

	st.Apply(&Delta{History: []string{"4", "5"}})

	if len(st.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(st.History))
	}
	if st.History[0] != "3" || st.History[2] != "5" {
		t.Errorf("History = %v, want oldest trimmed", st.History)
	}
}

func TestApply_HistoryRetentionZeroKeepsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryRetention = 0
	st := New("p", cfg)

	for i := 0; i < 100; i++ {
		st.Apply(&Delta{History: []string{"entry"}})
	}
	if len(st.History) != 100 {
		t.Errorf("len(History) = %d, want 100", len(st.History))
	}
}

func TestApply_StrategiesReplacedWhole(t *testing.T) {
	st := New("p", DefaultConfig())
	st.Strategies = []Strategy{
		{ID: "a", Status: StatusActive},
		{ID: "b", Status: StatusActive},
	}

	st.Apply(&Delta{Strategies: []Strategy{{ID: "a", Status: StatusExpanded}}})

	if len(st.Strategies) != 1 {
		t.Fatalf("len(Strategies) = %d, want 1 (replaced in full)", len(st.Strategies))
	}
	if st.Strategies[0].Status != StatusExpanded {
		t.Error("replacement population not applied")
	}
}

func TestApply_DecisionsDrainedByEmptySlice(t *testing.T) {
	st := New("p", DefaultConfig())
	st.ArchitectDecisions = []Decision{{Kind: DecisionRefine, StrategyID: "a"}}

	// Executor drains the queue with a non-nil empty slice.
	st.Apply(&Delta{ArchitectDecisions: []Decision{}})

	if len(st.ArchitectDecisions) != 0 {
		t.Errorf("decisions = %v, want drained", st.ArchitectDecisions)
	}

	// A nil field leaves the queue alone.
	st.ArchitectDecisions = []Decision{{Kind: DecisionRefine, StrategyID: "b"}}
	st.Apply(&Delta{JudgeContext: Ptr("x")})
	if len(st.ArchitectDecisions) != 1 {
		t.Error("nil decisions field must not drain the queue")
	}
}

func TestApply_EntropyBookkeeping(t *testing.T) {
	st := New("p", DefaultConfig())

	st.Apply(&Delta{SpatialEntropy: Ptr(-0.5)})
	if st.SpatialEntropy == nil || *st.SpatialEntropy != -0.5 {
		t.Fatal("entropy not set")
	}
	if st.PrevSpatialEntropy != nil {
		t.Fatal("prev entropy must stay undefined until the second visit")
	}

	st.Apply(&Delta{PrevSpatialEntropy: Ptr(-0.5), SpatialEntropy: Ptr(-0.51)})
	if *st.PrevSpatialEntropy != -0.5 || *st.SpatialEntropy != -0.51 {
		t.Error("entropy rotation not applied")
	}
}

func TestApply_NilDelta(t *testing.T) {
	st := New("p", DefaultConfig())
	st.Apply(nil) // must not panic
	if st.ProblemState != "p" {
		t.Error("nil delta must be a no-op")
	}
}
