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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

// researchSeparator joins research gathered across visits.
const researchSeparator = "\n\n---\n\n"

// Researcher runs one grounded call per visit, not a ReAct loop; the
// conditional edge bounds the total cost. The model self-reports whether
// the gathered context is sufficient.
type Researcher struct {
	deps Deps
}

func NewResearcher(deps Deps) *Researcher {
	return &Researcher{deps: deps}
}

func (r *Researcher) Name() string { return NodeResearcher }

type researchResult struct {
	ResearchContext   string   `json:"research_context"`
	InformationStatus string   `json:"information_status"`
	MissingItems      []string `json:"missing_items"`
}

func (r *Researcher) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	iteration := st.ResearchIteration + 1

	needs := make([]string, 0, len(st.InformationNeeds))
	for _, n := range st.InformationNeeds {
		needs = append(needs, fmt.Sprintf("%s (%s, priority %d)", n.Topic, n.Type, n.Priority))
	}
	prompt := fmt.Sprintf(researchPrompt,
		st.ProblemState,
		bulletList(st.Subtasks),
		bulletList(needs),
		orPlaceholder(st.ResearchContext, "(nothing yet)"),
	)

	req := newRequest(st.Config, systemJSONOnly, prompt, tempResearch)
	req.Tools = []inference.Tool{inference.ToolGroundedSearch}
	resp, err := r.deps.Inference.GenerateJSON(ctx, req)
	if err != nil {
		// Transient provider failures retry through the loop; the
		// iteration cap guarantees progress.
		r.deps.logger().Warn("research call failed", "iteration", iteration, "error", err)
		return &state.Delta{
			ResearchStatus:    state.Ptr(state.ResearchInsufficient),
			ResearchIteration: state.Ptr(iteration),
			History: []string{fmt.Sprintf("[Researcher] Iteration %d: research call failed (%v); retrying while budget remains",
				iteration, err)},
		}, nil
	}

	res, parsed := parseResearch(resp.Parsed, resp.Raw)

	status := state.ResearchInsufficient
	if res.InformationStatus == string(state.ResearchSufficient) {
		status = state.ResearchSufficient
	}

	merged := st.ResearchContext
	if added := strings.TrimSpace(res.ResearchContext); added != "" {
		if merged != "" {
			merged += researchSeparator
		}
		merged += added
	}

	entry := fmt.Sprintf("[Researcher] Iteration %d: status=%s", iteration, status)
	if !parsed {
		entry += " (unstructured response kept verbatim)"
	}
	if len(res.MissingItems) > 0 {
		entry += "; missing: " + strings.Join(res.MissingItems, ", ")
	}

	return &state.Delta{
		ResearchContext:   state.Ptr(merged),
		ResearchStatus:    state.Ptr(status),
		ResearchIteration: state.Ptr(iteration),
		History:           []string{entry},
	}, nil
}

// parseResearch decodes the structured result; an unparseable reply becomes
// the research context itself with status sufficient, so the loop cannot
// deadlock on a model that refuses the schema.
func parseResearch(parsed json.RawMessage, raw string) (researchResult, bool) {
	if parsed != nil {
		var res researchResult
		if err := json.Unmarshal(parsed, &res); err == nil {
			if res.MissingItems == nil {
				res.MissingItems = []string{}
			}
			return res, true
		}
	}
	return researchResult{
		ResearchContext:   raw,
		InformationStatus: string(state.ResearchSufficient),
		MissingItems:      []string{},
	}, false
}

// ShouldResearchContinue is the Researcher's outgoing edge: proceed to
// distillation once the context is sufficient or the iteration budget is
// spent, otherwise loop.
func ShouldResearchContinue(st *state.RunState) string {
	if st.ResearchStatus == state.ResearchSufficient ||
		st.ResearchIteration >= st.Config.MaxResearchIterations {
		return NodeDistiller
	}
	return NodeResearcher
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
