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

// DecisionKind selects the Executor path for a scheduled decision.
type DecisionKind string

const (
	// DecisionRefine asks the Executor to advance one strategy's trajectory.
	DecisionRefine DecisionKind = "refine"

	// DecisionGenerateVariant asks the Executor to derive a new strategy
	// from an existing one.
	DecisionGenerateVariant DecisionKind = "generate_variant"

	// DecisionSynthesize asks the Executor to fold the named strategies
	// into the final report and hard-prune them.
	DecisionSynthesize DecisionKind = "synthesize"
)

// Valid reports whether k is a recognized kind.
func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionRefine, DecisionGenerateVariant, DecisionSynthesize:
		return true
	default:
		return false
	}
}

// Decision is one scheduled unit of Executor work. The kind decides which
// fields are meaningful:
//
//   - refine / generate_variant: StrategyID names the target.
//   - synthesize: SynthesisIDs names every strategy folded into the report;
//     StrategyID may name the anchor strategy and is otherwise empty.
//
// ExecutorInstruction is the task text handed to the inference service and
// ContextInjection is scheduler-selected grounding prepended to it.
type Decision struct {
	Kind                DecisionKind `json:"kind"`
	StrategyID          string       `json:"strategy_id,omitempty"`
	SynthesisIDs        []string     `json:"synthesis_ids,omitempty"`
	ExecutorInstruction string       `json:"executor_instruction"`
	ContextInjection    string       `json:"context_injection,omitempty"`
}

// Clone returns a deep copy of the decision.
func (d Decision) Clone() Decision {
	out := d
	if d.SynthesisIDs != nil {
		out.SynthesisIDs = append([]string(nil), d.SynthesisIDs...)
	}
	return out
}

// CloneDecisions deep-copies a decision list.
func CloneDecisions(in []Decision) []Decision {
	if in == nil {
		return nil
	}
	out := make([]Decision, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
