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
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

// Sampling temperatures per role. Analytical roles run cold; generation
// runs hot. Propagation heat comes from the coupling strategy instead.
const (
	tempDecompose  = 0.2
	tempResearch   = 0.3
	tempDistill    = 0.3
	tempGenerate   = 0.8
	tempJudge      = 0.2
	tempSchedule   = 0.3
	tempRefine     = 0.5
	tempVariant    = 0.8
	tempSynthesize = 0.4
)

const systemJSONOnly = `You are a component inside an evolutionary reasoning engine. Respond with a single JSON object matching the requested schema and nothing else. No prose outside the JSON.`

const decomposePrompt = `Decompose the following problem into concrete subtasks and the information needed to solve them.

Problem:
%s

Respond with JSON:
{"subtasks": ["..."], "information_needs": [{"topic": "...", "type": "factual|procedural|conceptual", "priority": 1-5}]}

Priority 5 means blocking, 1 means nice to have.`

const researchPrompt = `Research the open information needs for this problem. Use grounded search where available; otherwise reason from your own knowledge and say so.

Problem:
%s

Subtasks:
%s

Information needs:
%s

Research gathered so far (do not repeat it):
%s

Respond with JSON:
{"research_context": "new findings as markdown", "information_status": "sufficient|insufficient", "missing_items": ["..."]}`

const distillPrompt = `Compress the following research into a structured brief of at most 500 tokens. Keep concrete facts, figures, and constraints; drop narration and repetition. Use short markdown sections.

Research:
%s`

const chunkSummaryPrompt = `Summarise this research fragment in at most 150 tokens, keeping every concrete fact and constraint:

%s`

const generatePrompt = `Propose 3 to 5 distinct solution strategies for this problem. Make them genuinely different in approach, not variations of one idea.

Problem:
%s

Research brief:
%s

Respond with JSON:
{"strategies": [{"strategy_name": "...", "rationale": "why this could work", "initial_assumption": "what must hold for it to work", "milestones": ["..."]}]}`

const judgePrompt = `Score each strategy's promise on [0,1] given the current search state. Judge the trajectory, not the prose. 0.5 means undecided.

%s

Strategies:
%s

Respond with JSON:
{"scores": {"<strategy_id>": 0.0}, "kb_writes": [{"title": "...", "content": "...", "type": "lesson_learned|success_pattern|branching_heuristic|meta_insight", "tags": ["..."]}]}

kb_writes is optional; include an entry only for a genuinely generalisable observation.`

const propagatePrompt = `Derive one child strategy from this parent. Keep what works, change one meaningful dimension (assumption, mechanism, or scope). Do not restate the parent.

Parent strategy:
Name: %s
Rationale: %s
Assumption: %s
Latest trajectory: %s

Respond with JSON:
{"strategy_name": "...", "rationale": "...", "initial_assumption": "...", "change_summary": "one line describing what changed"}`

const schedulePrompt = `Decide the next action for each strategy below (ranked by UCB, best first). Default action is "refine". Use "generate_variant" to branch a promising strategy, "synthesize" (with synthesis_ids) only when a set of strategies is mature enough to fold into the final report.

%s

Respond with JSON:
{"decisions": [{"strategy_id": "...", "kind": "refine|generate_variant|synthesize", "executor_instruction": "...", "context_injection": "optional grounding to prepend", "synthesis_ids": ["..."]}]}`

const refinePrompt = `%s

Strategy under refinement:
Name: %s
Rationale: %s
Assumption: %s
Trajectory so far:
%s

Instruction: %s

Respond with a concise analysis that advances this strategy. Plain text.`

const variantPrompt = `%s

Create a variant of this strategy that explores a different angle.

Base strategy:
Name: %s
Rationale: %s
Assumption: %s

Instruction: %s

Respond with JSON:
{"strategy_name": "...", "rationale": "...", "initial_assumption": "..."}`

const synthesizePrompt = `Fold the following strategies into a single coherent report. %s

Current report (empty means first synthesis):
%s

Strategies to fold:
%s

Instruction: %s

Respond with JSON:
{"final_report": "the full updated report as markdown", "branch_rationales": {"<strategy_id>": "one or two sentences on what this branch contributed and why it was folded"}}`

// EstimateTokens approximates the token count of s as one token per four
// runes, rounded up. Good enough across mixed scripts for thresholding.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// newRequest builds an inference request carrying the run's thinking
// pass-through settings.
func newRequest(cfg state.Config, system, prompt string, temperature float64) inference.Request {
	return inference.Request{
		System:         system,
		Prompt:         prompt,
		Temperature:    temperature,
		ThinkingLevel:  string(cfg.ThinkingLevel),
		ThinkingBudget: cfg.ThinkingBudget,
	}
}

// truncateRunes caps s at n runes, appending an ellipsis marker when cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// firstLine returns the first non-empty line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

// bulletList renders items as a markdown list, or a placeholder when empty.
func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it)
	}
	return strings.TrimRight(b.String(), "\n")
}
