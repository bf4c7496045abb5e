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
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

// fallbackInstruction drives the degraded single-refine path.
const fallbackInstruction = "Advance this strategy's most promising milestone and report concrete findings."

// Architect schedules Executor work for the round: a ranked view of the
// strategies still needing execution goes to the model, which returns
// refine / generate_variant / synthesize decisions. Operator-forced
// synthesis directives are drained first and always win.
type Architect struct {
	deps Deps
}

func NewArchitect(deps Deps) *Architect {
	return &Architect{deps: deps}
}

func (a *Architect) Name() string { return NodeArchitect }

type scheduledDecision struct {
	StrategyID          string   `json:"strategy_id"`
	Kind                string   `json:"kind"`
	ExecutorInstruction string   `json:"executor_instruction"`
	ContextInjection    string   `json:"context_injection"`
	SynthesisIDs        []string `json:"synthesis_ids"`
}

type schedule struct {
	Decisions []scheduledDecision `json:"decisions"`
}

func (a *Architect) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	var decisions []state.Decision
	var history []string

	forced := 0
	if a.deps.Directives != nil {
		for _, dir := range a.deps.Directives.Drain() {
			msg := dir.Message
			if msg == "" {
				msg = "Operator requested synthesis of the selected strategies."
			}
			decisions = append(decisions, state.Decision{
				Kind:                state.DecisionSynthesize,
				SynthesisIDs:        append([]string(nil), dir.StrategyIDs...),
				ExecutorInstruction: msg,
			})
			forced++
		}
	}
	if forced > 0 {
		history = append(history, fmt.Sprintf("[ArchitectScheduler] %d operator-forced synthesis directives scheduled", forced))
	}

	pending := pendingStrategies(st)
	if len(pending) > 0 {
		modelDecisions, note := a.schedule(ctx, st, pending)
		if note != "" {
			history = append(history, note)
		}
		modelDecisions = a.reviewSynthesis(ctx, st, modelDecisions, forced > 0, &history)
		decisions = append(decisions, modelDecisions...)
	}

	history = append(history, fmt.Sprintf("[ArchitectScheduler] Scheduled %d decisions for %d pending strategies",
		len(decisions), len(pending)))

	return &state.Delta{
		ArchitectDecisions: decisions,
		History:            history,
	}, nil
}

// pendingStrategies returns the actives awaiting execution this round
// (child quota already spent or never assigned), best UCB first.
func pendingStrategies(st *state.RunState) []*state.Strategy {
	var out []*state.Strategy
	for i := range st.Strategies {
		s := &st.Strategies[i]
		if s.Status == state.StatusActive && s.ChildQuota == 0 {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ui, uj := ucbOf(out[i]), ucbOf(out[j])
		if ui != uj {
			return ui > uj
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func ucbOf(s *state.Strategy) float64 {
	if s.UCBScore == nil {
		return math.Inf(-1)
	}
	return *s.UCBScore
}

// schedule asks the model for decisions; any failure degrades to a single
// refine of the top-ranked strategy. The returned note is a history entry
// for the degraded path, empty otherwise.
func (a *Architect) schedule(ctx context.Context, st *state.RunState, pending []*state.Strategy) ([]state.Decision, string) {
	var sb strings.Builder
	for rank, s := range pending {
		last := ""
		if len(s.Trajectory) > 0 {
			last = s.Trajectory[len(s.Trajectory)-1]
		}
		fmt.Fprintf(&sb, "%d. id=%s name=%q score=%.3f ucb=%s\n   last: %s\n",
			rank+1, s.ID, s.Name, s.Score, fmtUCB(s.UCBScore), truncateRunes(last, 160))
	}

	resp, err := a.deps.Inference.GenerateJSON(ctx,
		newRequest(st.Config, systemJSONOnly, fmt.Sprintf(schedulePrompt, sb.String()), tempSchedule))
	if err != nil {
		a.deps.logger().Warn("scheduling call failed; falling back to single refine", "error", err)
		return a.fallbackDecisions(pending), "[ArchitectScheduler] Scheduling call failed; refining the top-ranked strategy"
	}

	var sched schedule
	if resp.Parsed == nil || json.Unmarshal(resp.Parsed, &sched) != nil || len(sched.Decisions) == 0 {
		a.deps.logger().Warn("scheduling response unparseable; falling back to single refine")
		return a.fallbackDecisions(pending), "[ArchitectScheduler] Scheduling response unparseable; refining the top-ranked strategy"
	}

	var out []state.Decision
	for _, d := range sched.Decisions {
		dec, ok := a.coerceDecision(st, d)
		if !ok {
			continue
		}
		out = append(out, dec)
	}
	if len(out) == 0 {
		return a.fallbackDecisions(pending), "[ArchitectScheduler] No valid model decisions; refining the top-ranked strategy"
	}
	return out, ""
}

func (a *Architect) fallbackDecisions(pending []*state.Strategy) []state.Decision {
	return []state.Decision{{
		Kind:                state.DecisionRefine,
		StrategyID:          pending[0].ID,
		ExecutorInstruction: fallbackInstruction,
	}}
}

// coerceDecision validates one model decision against the population.
// Unknown kinds default to refine; targets must resolve to active
// strategies.
func (a *Architect) coerceDecision(st *state.RunState, d scheduledDecision) (state.Decision, bool) {
	kind := state.DecisionKind(d.Kind)
	if !kind.Valid() {
		kind = state.DecisionRefine
	}

	instruction := strings.TrimSpace(d.ExecutorInstruction)
	if instruction == "" {
		instruction = fallbackInstruction
	}

	if kind == state.DecisionSynthesize {
		ids := d.SynthesisIDs
		if len(ids) == 0 && d.StrategyID != "" {
			ids = []string{d.StrategyID}
		}
		if len(ids) == 0 {
			return state.Decision{}, false
		}
		return state.Decision{
			Kind:                kind,
			StrategyID:          d.StrategyID,
			SynthesisIDs:        ids,
			ExecutorInstruction: instruction,
			ContextInjection:    d.ContextInjection,
		}, true
	}

	target := st.StrategyByID(d.StrategyID)
	if target == nil || target.Status != state.StatusActive {
		a.deps.logger().Warn("decision dropped: target not active", "strategy_id", d.StrategyID, "kind", kind)
		return state.Decision{}, false
	}
	return state.Decision{
		Kind:                kind,
		StrategyID:          d.StrategyID,
		ExecutorInstruction: instruction,
		ContextInjection:    d.ContextInjection,
	}, true
}

// reviewSynthesis gives a human the chance to veto model-initiated
// synthesis before strategies are hard-pruned. Skipped when no asker is
// wired, review is disabled, or the operator already forced synthesis this
// round. A timeout proceeds.
func (a *Architect) reviewSynthesis(ctx context.Context, st *state.RunState, decisions []state.Decision, operatorForced bool, history *[]string) []state.Decision {
	if a.deps.Asker == nil || a.deps.SynthesisReviewTimeout <= 0 || operatorForced {
		return decisions
	}

	var names []string
	for _, d := range decisions {
		if d.Kind != state.DecisionSynthesize {
			continue
		}
		for _, id := range d.SynthesisIDs {
			if s := st.StrategyByID(id); s != nil {
				names = append(names, s.Name)
			}
		}
	}
	if len(names) == 0 {
		return decisions
	}

	question := fmt.Sprintf("The scheduler wants to fold %d strategies into the final report. Proceed? (answer 'no' to defer)", len(names))
	resp, err := a.deps.Asker.AskHuman(ctx, NodeArchitect, question, strings.Join(names, ", "), a.deps.SynthesisReviewTimeout)
	if err != nil || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp)), "no") {
		return decisions
	}

	out := decisions[:0]
	for _, d := range decisions {
		if d.Kind != state.DecisionSynthesize {
			out = append(out, d)
			continue
		}
		if d.StrategyID == "" {
			continue
		}
		out = append(out, state.Decision{
			Kind:                state.DecisionRefine,
			StrategyID:          d.StrategyID,
			ExecutorInstruction: "Continue refining; synthesis was deferred by operator review.",
		})
	}
	*history = append(*history, "[ArchitectScheduler] Synthesis deferred by operator review")
	return out
}

func fmtUCB(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *p)
}
