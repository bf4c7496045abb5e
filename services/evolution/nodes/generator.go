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

// generationSeed is the first trajectory entry of every root strategy.
const generationSeed = "[StrategyGenerator] Initial generation"

// Generator produces the initial strategy population. A provider failure is
// a node failure: with nothing to search over the run cannot proceed. A
// parse failure falls back to a single direct strategy.
type Generator struct {
	deps Deps
}

func NewGenerator(deps Deps) *Generator {
	return &Generator{deps: deps}
}

func (g *Generator) Name() string { return NodeGenerator }

type generatedStrategy struct {
	StrategyName      string          `json:"strategy_name"`
	Rationale         string          `json:"rationale"`
	InitialAssumption string          `json:"initial_assumption"`
	Milestones        json.RawMessage `json:"milestones"`
}

type generation struct {
	Strategies []generatedStrategy `json:"strategies"`
}

func (g *Generator) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	prompt := fmt.Sprintf(generatePrompt, st.ProblemState, orPlaceholder(st.ResearchContext, "(no research)"))
	resp, err := g.deps.Inference.GenerateJSON(ctx, newRequest(st.Config, systemJSONOnly, prompt, tempGenerate))
	if err != nil {
		return nil, fmt.Errorf("strategy generation: %w", err)
	}

	parsed := parseGeneration(resp.Parsed)
	fellBack := len(parsed) == 0
	if fellBack {
		g.deps.logger().Warn("strategy generation returned no parseable strategies; seeding a direct approach")
		parsed = []generatedStrategy{{
			StrategyName:      "Direct approach",
			Rationale:         "Address the problem head-on with the available research.",
			InitialAssumption: "The problem is tractable without decomposing into competing framings.",
		}}
	}

	strategies := state.CloneStrategies(st.Strategies)
	for i, gs := range parsed {
		name := gs.StrategyName
		if name == "" {
			name = fmt.Sprintf("Strategy %d", i+1)
		}
		strategies = append(strategies,
			state.NewStrategy(name, gs.Rationale, gs.InitialAssumption, gs.Milestones, generationSeed))
	}

	entry := fmt.Sprintf("[StrategyGenerator] Generated %d initial strategies", len(parsed))
	if fellBack {
		entry = "[StrategyGenerator] Generation response unparseable; seeded a single direct strategy"
	}

	return &state.Delta{
		Strategies: strategies,
		History:    []string{entry},
	}, nil
}

func parseGeneration(raw json.RawMessage) []generatedStrategy {
	if raw == nil {
		return nil
	}
	var gen generation
	if err := json.Unmarshal(raw, &gen); err == nil && len(gen.Strategies) > 0 {
		return gen.Strategies
	}
	// Some models return the list without the wrapper object.
	var bare []generatedStrategy
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare
	}
	return nil
}
