// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"fmt"
)

// =============================================================================
// Research Types
// =============================================================================

// ResearchStatus reports whether grounding gathered so far suffices.
type ResearchStatus string

const (
	ResearchSufficient   ResearchStatus = "sufficient"
	ResearchInsufficient ResearchStatus = "insufficient"
)

// NeedType classifies an information need.
type NeedType string

const (
	NeedFactual    NeedType = "factual"
	NeedProcedural NeedType = "procedural"
	NeedConceptual NeedType = "conceptual"
)

// InformationNeed is one gap the Researcher should fill.
type InformationNeed struct {
	Topic    string   `json:"topic"`
	Type     NeedType `json:"type"`
	Priority int      `json:"priority"` // 1 (nice to have) .. 5 (blocking)
}

// =============================================================================
// Run State
// =============================================================================

// RunState is the single mutable record flowing through the graph. The graph
// task is its only writer; everyone else reads deep copies.
//
// Entropy and temperature fields are pointers because they are undefined
// until the first Evolution visit; convergence logic depends on telling
// "never computed" apart from zero.
type RunState struct {
	ProblemState     string            `json:"problem_state"`
	Subtasks         []string          `json:"subtasks,omitempty"`
	InformationNeeds []InformationNeed `json:"information_needs,omitempty"`

	Strategies []Strategy `json:"strategies"`

	ResearchContext   string         `json:"research_context,omitempty"`
	ResearchStatus    ResearchStatus `json:"research_status,omitempty"`
	ResearchIteration int            `json:"research_iteration"`

	JudgeContext string `json:"judge_context,omitempty"`

	ArchitectDecisions []Decision `json:"architect_decisions,omitempty"`

	SpatialEntropy        *float64 `json:"spatial_entropy,omitempty"`
	PrevSpatialEntropy    *float64 `json:"prev_spatial_entropy,omitempty"`
	EffectiveTemperature  *float64 `json:"effective_temperature,omitempty"`
	NormalizedTemperature *float64 `json:"normalized_temperature,omitempty"`

	Config Config `json:"config"`

	History []string `json:"history"`

	IterationCount int    `json:"iteration_count"`
	ReportVersion  int    `json:"report_version"`
	FinalReport    string `json:"final_report,omitempty"`
}

// New creates the initial state for a run: the user problem plus config,
// everything else empty.
func New(problem string, cfg Config) *RunState {
	return &RunState{
		ProblemState: problem,
		Config:       cfg,
		Strategies:   []Strategy{},
		History:      []string{},
	}
}

// Clone returns a deep copy safe to hand to subscribers.
func (st *RunState) Clone() *RunState {
	out := *st
	out.Subtasks = append([]string(nil), st.Subtasks...)
	out.InformationNeeds = append([]InformationNeed(nil), st.InformationNeeds...)
	out.Strategies = CloneStrategies(st.Strategies)
	out.ArchitectDecisions = CloneDecisions(st.ArchitectDecisions)
	out.History = append([]string(nil), st.History...)
	out.SpatialEntropy = cloneFloat(st.SpatialEntropy)
	out.PrevSpatialEntropy = cloneFloat(st.PrevSpatialEntropy)
	out.EffectiveTemperature = cloneFloat(st.EffectiveTemperature)
	out.NormalizedTemperature = cloneFloat(st.NormalizedTemperature)
	return &out
}

// StrategyByID returns a pointer into the population, or nil. The pointer is
// invalidated by any append to Strategies.
func (st *RunState) StrategyByID(id string) *Strategy {
	for i := range st.Strategies {
		if st.Strategies[i].ID == id {
			return &st.Strategies[i]
		}
	}
	return nil
}

// ActiveStrategies returns pointers to every strategy with StatusActive, in
// population order.
func (st *RunState) ActiveStrategies() []*Strategy {
	var out []*Strategy
	for i := range st.Strategies {
		if st.Strategies[i].Status == StatusActive {
			out = append(out, &st.Strategies[i])
		}
	}
	return out
}

// HistoryTail returns the last n history entries (fewer if history is short).
func (st *RunState) HistoryTail(n int) []string {
	if n <= 0 || len(st.History) == 0 {
		return nil
	}
	if len(st.History) < n {
		n = len(st.History)
	}
	return append([]string(nil), st.History[len(st.History)-n:]...)
}

// =============================================================================
// Invariant Validation
// =============================================================================

// Validate checks the structural invariants that must hold at every node
// boundary. The engine calls this after each merge and treats a violation
// as a state error that terminates the run.
//
// Checked:
//   - every strategy id is non-empty and unique
//   - every status is in the allowed set
//   - parent ids resolve within the population or are empty
//   - child_quota > 0 only on active strategies, never negative
//   - expanded strategies carry no child quota
//   - pruned_synthesized strategies carry a report version >= 1
func (st *RunState) Validate() error {
	seen := make(map[string]struct{}, len(st.Strategies))
	for i := range st.Strategies {
		s := &st.Strategies[i]
		if s.ID == "" {
			return fmt.Errorf("strategy %d: empty id", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("strategy %q: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}

		if !s.Status.Valid() {
			return fmt.Errorf("strategy %q: invalid status %q", s.ID, s.Status)
		}
		if s.ChildQuota < 0 {
			return fmt.Errorf("strategy %q: negative child_quota %d", s.ID, s.ChildQuota)
		}
		if s.ChildQuota > 0 && s.Status != StatusActive {
			return fmt.Errorf("strategy %q: child_quota %d on non-active status %q", s.ID, s.ChildQuota, s.Status)
		}
		if s.Status == StatusExpanded && s.ChildQuota != 0 {
			return fmt.Errorf("strategy %q: expanded with child_quota %d", s.ID, s.ChildQuota)
		}
		if s.Status == StatusPrunedSynthesized && s.PrunedAtReportVersion < 1 {
			return fmt.Errorf("strategy %q: pruned_synthesized without report version", s.ID)
		}
	}

	for i := range st.Strategies {
		s := &st.Strategies[i]
		if s.ParentID == "" {
			continue
		}
		if _, ok := seen[s.ParentID]; !ok {
			return fmt.Errorf("strategy %q: parent %q not in population", s.ID, s.ParentID)
		}
	}

	return nil
}
