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
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

// Executor runs the scheduled decisions in order, one inference call each.
// Decisions execute sequentially: synthesis mutates the report and prunes
// contributors, so later decisions must see its effects. A failed decision
// is recorded and skipped; the rest still run. The decision list is always
// drained.
type Executor struct {
	deps Deps
}

func NewExecutor(deps Deps) *Executor {
	return &Executor{deps: deps}
}

func (x *Executor) Name() string { return NodeExecutor }

type synthesisResult struct {
	FinalReport      string            `json:"final_report"`
	BranchRationales map[string]string `json:"branch_rationales"`
}

func (x *Executor) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	delta := &state.Delta{ArchitectDecisions: []state.Decision{}}
	if len(st.ArchitectDecisions) == 0 {
		delta.History = []string{"[Executor] Nothing scheduled"}
		return delta, nil
	}

	strategies := state.CloneStrategies(st.Strategies)
	report := st.FinalReport
	version := st.ReportVersion

	var history []string
	applied, failed := 0, 0
	for _, dec := range st.ArchitectDecisions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var err error
		switch dec.Kind {
		case state.DecisionRefine:
			err = x.refine(ctx, st.Config, strategies, dec)
		case state.DecisionGenerateVariant:
			strategies, err = x.generateVariant(ctx, st.Config, strategies, dec)
		case state.DecisionSynthesize:
			report, version, err = x.synthesize(ctx, st.Config, strategies, dec, report, version)
		default:
			err = fmt.Errorf("unknown decision kind %q", dec.Kind)
		}
		if err != nil {
			failed++
			history = append(history, fmt.Sprintf("[Executor] %s failed: %v", dec.Kind, err))
			x.deps.logger().Warn("decision failed", "kind", dec.Kind, "strategy_id", dec.StrategyID, "error", err)
			continue
		}
		applied++
	}

	delta.Strategies = strategies
	if report != st.FinalReport {
		delta.FinalReport = state.Ptr(report)
	}
	if version != st.ReportVersion {
		delta.ReportVersion = state.Ptr(version)
	}
	delta.History = append(history, fmt.Sprintf("[Executor] Applied %d of %d decisions", applied, applied+failed))
	return delta, nil
}

func (x *Executor) refine(ctx context.Context, cfg state.Config, strategies []state.Strategy, dec state.Decision) error {
	i := indexOfActive(strategies, dec.StrategyID)
	if i < 0 {
		return fmt.Errorf("strategy %s is not active", shortID(dec.StrategyID))
	}
	s := &strategies[i]

	prompt := strings.TrimSpace(fmt.Sprintf(refinePrompt,
		dec.ContextInjection, s.Name, s.Rationale, s.Assumption,
		bulletList(tailStrings(s.Trajectory, 5)), dec.ExecutorInstruction))

	resp, err := x.deps.Inference.GenerateJSON(ctx, newRequest(cfg, "", prompt, tempRefine))
	if err != nil {
		return err
	}
	analysis := strings.TrimSpace(resp.Raw)
	if analysis == "" {
		return inference.ErrEmptyResponse
	}
	s.AppendTrajectory("[Executor] " + truncateRunes(analysis, 300))
	return nil
}

func (x *Executor) generateVariant(ctx context.Context, cfg state.Config, strategies []state.Strategy, dec state.Decision) ([]state.Strategy, error) {
	i := indexOfActive(strategies, dec.StrategyID)
	if i < 0 {
		return strategies, fmt.Errorf("strategy %s is not active", shortID(dec.StrategyID))
	}
	parent := strategies[i]

	prompt := strings.TrimSpace(fmt.Sprintf(variantPrompt,
		dec.ContextInjection, parent.Name, parent.Rationale, parent.Assumption, dec.ExecutorInstruction))

	resp, err := x.deps.Inference.GenerateJSON(ctx, newRequest(cfg, systemJSONOnly, prompt, tempVariant))
	if err != nil {
		return strategies, err
	}
	if resp.Parsed == nil {
		return strategies, fmt.Errorf("variant proposal carried no JSON")
	}
	var prop childProposal
	if err := json.Unmarshal(resp.Parsed, &prop); err != nil {
		return strategies, fmt.Errorf("variant proposal did not match the schema: %w", err)
	}
	if prop.StrategyName == "" {
		return strategies, fmt.Errorf("variant proposal missing strategy_name")
	}

	child := state.NewStrategy(prop.StrategyName, prop.Rationale, prop.InitialAssumption, cloneRaw(parent.Milestones), "")
	child.ParentID = parent.ID
	child.Trajectory = append(append([]string(nil), parent.Trajectory...), "[Executor] Variant")
	return append(strategies, child), nil
}

// synthesize folds the contributing actives into the report and hard-prunes
// them. This is the only path that sets pruned_synthesized.
func (x *Executor) synthesize(ctx context.Context, cfg state.Config, strategies []state.Strategy, dec state.Decision, report string, version int) (string, int, error) {
	ids := dec.SynthesisIDs
	if len(ids) == 0 && dec.StrategyID != "" {
		ids = []string{dec.StrategyID}
	}
	var contributors []int
	for _, id := range ids {
		if i := indexOfActive(strategies, id); i >= 0 {
			contributors = append(contributors, i)
		}
	}
	if len(contributors) == 0 {
		return report, version, fmt.Errorf("no active contributors among %d requested strategies", len(ids))
	}

	var sb strings.Builder
	for _, i := range contributors {
		s := &strategies[i]
		fmt.Fprintf(&sb, "id: %s\nname: %s\nrationale: %s\nassumption: %s\ntrajectory:\n%s\n\n",
			s.ID, s.Name, s.Rationale, s.Assumption, bulletList(tailStrings(s.Trajectory, 5)))
	}
	prompt := fmt.Sprintf(synthesizePrompt,
		dec.ContextInjection, orPlaceholder(report, "(empty)"), sb.String(), dec.ExecutorInstruction)

	resp, err := x.deps.Inference.GenerateJSON(ctx, newRequest(cfg, systemJSONOnly, prompt, tempSynthesize))
	if err != nil {
		return report, version, err
	}

	var result synthesisResult
	if resp.Parsed != nil {
		_ = json.Unmarshal(resp.Parsed, &result)
	}
	newReport := strings.TrimSpace(result.FinalReport)
	if newReport == "" {
		newReport = strings.TrimSpace(resp.Raw)
	}
	if newReport == "" {
		return report, version, inference.ErrEmptyResponse
	}

	version++
	for _, i := range contributors {
		s := &strategies[i]
		s.Status = state.StatusPrunedSynthesized
		s.PrunedAtReportVersion = version
		s.ChildQuota = 0
		s.AppendTrajectory(fmt.Sprintf("[Executor] Folded into report v%d", version))
		x.archiveBranch(ctx, s, result.BranchRationales[s.ID], version)
	}
	return newReport, version, nil
}

// archiveBranch records why a branch was folded. The archive is advisory:
// failures log and never fail the synthesis.
func (x *Executor) archiveBranch(ctx context.Context, s *state.Strategy, rationale string, version int) {
	if x.deps.KB == nil {
		return
	}
	if strings.TrimSpace(rationale) == "" {
		rationale = fmt.Sprintf("Folded into report version %d without a stated rationale.", version)
	}
	rec := knowledge.Record{
		Title:   "Synthesis of " + s.Name,
		Content: rationale,
		Type:    knowledge.TypeBranchArchive,
		Tags:    []string{"synthesis"},
		Metadata: map[string]string{
			"strategy_id":    s.ID,
			"report_version": strconv.Itoa(version),
		},
	}
	if err := x.deps.KB.WriteStrategyArchive(ctx, rec); err != nil {
		x.deps.logger().Warn("branch archive failed", "strategy_id", s.ID, "error", err)
	}
}

func indexOfActive(strategies []state.Strategy, id string) int {
	for i := range strategies {
		if strategies[i].ID == id && strategies[i].Status == state.StatusActive {
			return i
		}
	}
	return -1
}
