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

// Propagation turns child quotas into children: one inference call per
// child, generation temperature from the coupling strategy. Parents expand
// after emission; the old strategies stay in the population so the lineage
// tree survives.
type Propagation struct {
	deps Deps
}

func NewPropagation(deps Deps) *Propagation {
	return &Propagation{deps: deps}
}

func (p *Propagation) Name() string { return NodePropagation }

type childProposal struct {
	StrategyName      string `json:"strategy_name"`
	Rationale         string `json:"rationale"`
	InitialAssumption string `json:"initial_assumption"`
	ChangeSummary     string `json:"change_summary"`
}

func (p *Propagation) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	strategies := state.CloneStrategies(st.Strategies)

	var parents []int
	for i := range strategies {
		if strategies[i].Status == state.StatusActive && strategies[i].ChildQuota > 0 {
			parents = append(parents, i)
		}
	}

	// Allocation writes entropy and quotas together, so a nil entropy means
	// it never ran and the flat per-parent fallback applies.
	legacy := false
	if len(parents) == 0 && st.SpatialEntropy == nil && st.Config.ChildrenPerParent > 0 {
		for i := range strategies {
			if strategies[i].Status == state.StatusActive {
				strategies[i].ChildQuota = st.Config.ChildrenPerParent
				parents = append(parents, i)
			}
		}
		legacy = len(parents) > 0
	}

	if len(parents) == 0 {
		return &state.Delta{
			History: []string{"[Propagation] No parents hold a child quota; nothing to propagate"},
		}, nil
	}

	temp := p.generationTemperature(st)

	var children []state.Strategy
	skipped := 0
	for _, i := range parents {
		parent := &strategies[i]
		born := 0
		for c := 0; c < parent.ChildQuota; c++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			child, err := p.generateChild(ctx, st.Config, parent, temp)
			if err != nil {
				skipped++
				p.deps.logger().Warn("child generation skipped",
					"parent_id", parent.ID, "error", err)
				continue
			}
			children = append(children, child)
			born++
		}
		parent.Status = state.StatusExpanded
		parent.ChildQuota = 0
		parent.AppendTrajectory(fmt.Sprintf("[Propagation] Expanded with %d children", born))
	}
	strategies = append(strategies, children...)

	entry := fmt.Sprintf("[Propagation] Produced %d children from %d parents (llm_temp=%.2f)",
		len(children), len(parents), temp)
	if legacy {
		entry += " via children_per_parent fallback"
	}
	history := []string{entry}
	if skipped > 0 {
		history = append(history, fmt.Sprintf("[Propagation] %d child generations skipped after failures", skipped))
	}

	return &state.Delta{
		Strategies: strategies,
		History:    history,
	}, nil
}

// generationTemperature derives the LLM sampling temperature from the
// coupling strategy, floored to preserve diversity in cold populations.
func (p *Propagation) generationTemperature(st *state.RunState) float64 {
	coupling := p.deps.Coupling
	if coupling == nil {
		coupling = CouplingFromConfig(st.Config)
	}
	tau := 0.0
	if st.NormalizedTemperature != nil {
		tau = *st.NormalizedTemperature
	}
	temp := float64(coupling.LLMTemperature(tau))
	if temp < st.Config.PropagationTempFloor {
		temp = st.Config.PropagationTempFloor
	}
	return temp
}

func (p *Propagation) generateChild(ctx context.Context, cfg state.Config, parent *state.Strategy, temp float64) (state.Strategy, error) {
	last := ""
	if len(parent.Trajectory) > 0 {
		last = parent.Trajectory[len(parent.Trajectory)-1]
	}
	prompt := fmt.Sprintf(propagatePrompt, parent.Name, parent.Rationale, parent.Assumption, last)

	resp, err := p.deps.Inference.GenerateJSON(ctx, newRequest(cfg, systemJSONOnly, prompt, temp))
	if err != nil {
		return state.Strategy{}, err
	}
	if resp.Parsed == nil {
		return state.Strategy{}, fmt.Errorf("child proposal carried no JSON")
	}
	var prop childProposal
	if err := json.Unmarshal(resp.Parsed, &prop); err != nil {
		return state.Strategy{}, fmt.Errorf("child proposal did not match the schema: %w", err)
	}
	if prop.StrategyName == "" {
		return state.Strategy{}, fmt.Errorf("child proposal missing strategy_name")
	}

	diff := firstLine(prop.ChangeSummary)
	if diff == "" {
		diff = "Variant of " + parent.Name
	}

	child := state.NewStrategy(prop.StrategyName, prop.Rationale, prop.InitialAssumption, cloneRaw(parent.Milestones), "")
	child.ParentID = parent.ID
	child.Trajectory = append(append([]string(nil), parent.Trajectory...),
		"[Propagation] "+truncateRunes(diff, 160))
	return child, nil
}

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(json.RawMessage, len(m))
	copy(out, m)
	return out
}
