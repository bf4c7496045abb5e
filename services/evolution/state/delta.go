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

// Delta is the partial state a node returns from one visit. Nil fields are
// untouched by the merge.
//
// Merge semantics per field class:
//
//   - scalars (pointers): non-nil overwrites.
//   - History: concatenated, never replaced.
//   - Strategies: non-nil replaces the population in full. Nodes must carry
//     forward every strategy they did not change.
//   - ArchitectDecisions: non-nil replaces; the Executor drains the queue by
//     returning a non-nil empty slice.
//   - Subtasks / InformationNeeds: non-nil replaces.
type Delta struct {
	ProblemState     *string           `json:"problem_state,omitempty"`
	Subtasks         []string          `json:"subtasks,omitempty"`
	InformationNeeds []InformationNeed `json:"information_needs,omitempty"`

	Strategies []Strategy `json:"strategies,omitempty"`

	ResearchContext   *string         `json:"research_context,omitempty"`
	ResearchStatus    *ResearchStatus `json:"research_status,omitempty"`
	ResearchIteration *int            `json:"research_iteration,omitempty"`

	JudgeContext *string `json:"judge_context,omitempty"`

	ArchitectDecisions []Decision `json:"architect_decisions,omitempty"`

	SpatialEntropy        *float64 `json:"spatial_entropy,omitempty"`
	PrevSpatialEntropy    *float64 `json:"prev_spatial_entropy,omitempty"`
	EffectiveTemperature  *float64 `json:"effective_temperature,omitempty"`
	NormalizedTemperature *float64 `json:"normalized_temperature,omitempty"`

	History []string `json:"history,omitempty"`

	IterationCount *int    `json:"iteration_count,omitempty"`
	ReportVersion  *int    `json:"report_version,omitempty"`
	FinalReport    *string `json:"final_report,omitempty"`
}

// IsZero reports whether the delta touches nothing.
func (d *Delta) IsZero() bool {
	return d == nil || (d.ProblemState == nil && d.Subtasks == nil && d.InformationNeeds == nil &&
		d.Strategies == nil && d.ResearchContext == nil && d.ResearchStatus == nil &&
		d.ResearchIteration == nil && d.JudgeContext == nil && d.ArchitectDecisions == nil &&
		d.SpatialEntropy == nil && d.PrevSpatialEntropy == nil && d.EffectiveTemperature == nil &&
		d.NormalizedTemperature == nil && len(d.History) == 0 && d.IterationCount == nil &&
		d.ReportVersion == nil && d.FinalReport == nil)
}

// Apply merges the delta into the state. Only the graph task calls this.
func (st *RunState) Apply(d *Delta) {
	if d == nil {
		return
	}
	if d.ProblemState != nil {
		st.ProblemState = *d.ProblemState
	}
	if d.Subtasks != nil {
		st.Subtasks = d.Subtasks
	}
	if d.InformationNeeds != nil {
		st.InformationNeeds = d.InformationNeeds
	}
	if d.Strategies != nil {
		st.Strategies = d.Strategies
	}
	if d.ResearchContext != nil {
		st.ResearchContext = *d.ResearchContext
	}
	if d.ResearchStatus != nil {
		st.ResearchStatus = *d.ResearchStatus
	}
	if d.ResearchIteration != nil {
		st.ResearchIteration = *d.ResearchIteration
	}
	if d.JudgeContext != nil {
		st.JudgeContext = *d.JudgeContext
	}
	if d.ArchitectDecisions != nil {
		st.ArchitectDecisions = d.ArchitectDecisions
	}
	if d.SpatialEntropy != nil {
		st.SpatialEntropy = d.SpatialEntropy
	}
	if d.PrevSpatialEntropy != nil {
		st.PrevSpatialEntropy = d.PrevSpatialEntropy
	}
	if d.EffectiveTemperature != nil {
		st.EffectiveTemperature = d.EffectiveTemperature
	}
	if d.NormalizedTemperature != nil {
		st.NormalizedTemperature = d.NormalizedTemperature
	}
	if len(d.History) > 0 {
		st.History = append(st.History, d.History...)
		if max := st.Config.HistoryRetention; max > 0 && len(st.History) > max {
			st.History = st.History[len(st.History)-max:]
		}
	}
	if d.IterationCount != nil {
		st.IterationCount = *d.IterationCount
	}
	if d.ReportVersion != nil {
		st.ReportVersion = *d.ReportVersion
	}
	if d.FinalReport != nil {
		st.FinalReport = *d.FinalReport
	}
}

// Ptr returns a pointer to v. Helper for building deltas.
func Ptr[T any](v T) *T { return &v }
