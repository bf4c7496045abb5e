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

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

// Decomposer splits the problem into subtasks and information needs. Any
// provider or parse failure degrades to a single-subtask decomposition so
// the rest of the graph stays defined.
type Decomposer struct {
	deps Deps
}

func NewDecomposer(deps Deps) *Decomposer {
	return &Decomposer{deps: deps}
}

func (d *Decomposer) Name() string { return NodeDecomposer }

type decomposition struct {
	Subtasks         []string `json:"subtasks"`
	InformationNeeds []struct {
		Topic    string `json:"topic"`
		Type     string `json:"type"`
		Priority int    `json:"priority"`
	} `json:"information_needs"`
}

func (d *Decomposer) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	prompt := fmt.Sprintf(decomposePrompt, st.ProblemState)
	resp, err := d.deps.Inference.GenerateJSON(ctx, newRequest(st.Config, systemJSONOnly, prompt, tempDecompose))
	if err != nil {
		return d.fallback(st, fmt.Sprintf("provider error: %v", err)), nil
	}
	if resp.Parsed == nil {
		return d.fallback(st, "response carried no JSON"), nil
	}

	var dec decomposition
	if err := json.Unmarshal(resp.Parsed, &dec); err != nil || len(dec.Subtasks) == 0 {
		return d.fallback(st, "response JSON did not match the schema"), nil
	}

	needs := make([]state.InformationNeed, 0, len(dec.InformationNeeds))
	for _, n := range dec.InformationNeeds {
		if n.Topic == "" {
			continue
		}
		needs = append(needs, state.InformationNeed{
			Topic:    n.Topic,
			Type:     coerceNeedType(n.Type),
			Priority: clampPriority(n.Priority),
		})
	}

	return &state.Delta{
		Subtasks:         dec.Subtasks,
		InformationNeeds: needs,
		History: []string{fmt.Sprintf("[TaskDecomposer] Split the problem into %d subtasks and %d information needs",
			len(dec.Subtasks), len(needs))},
	}, nil
}

// fallback keeps downstream nodes defined: the whole problem becomes the
// single subtask with one blocking factual need.
func (d *Decomposer) fallback(st *state.RunState, reason string) *state.Delta {
	d.deps.logger().Warn("decomposition degraded to single subtask", "reason", reason)
	return &state.Delta{
		Subtasks: []string{st.ProblemState},
		InformationNeeds: []state.InformationNeed{
			{Topic: st.ProblemState, Type: state.NeedFactual, Priority: 5},
		},
		History: []string{fmt.Sprintf("[TaskDecomposer] Decomposition failed (%s); treating the problem as one subtask", reason)},
	}
}

func coerceNeedType(s string) state.NeedType {
	switch state.NeedType(s) {
	case state.NeedFactual, state.NeedProcedural, state.NeedConceptual:
		return state.NeedType(s)
	default:
		return state.NeedFactual
	}
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}
