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

	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

// Judge scores every active strategy into [0,1] in one call. It never
// changes a status: pruning belongs to allocation and synthesis. Strategies
// the model skips keep their previous score.
type Judge struct {
	deps Deps
}

func NewJudge(deps Deps) *Judge {
	return &Judge{deps: deps}
}

func (j *Judge) Name() string { return NodeJudge }

type judgement struct {
	Scores   map[string]float64 `json:"scores"`
	KBWrites []kbWrite          `json:"kb_writes"`
}

type kbWrite struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Type    string   `json:"type"`
	Tags    []string `json:"tags"`
}

func (j *Judge) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	actives := st.ActiveStrategies()
	if len(actives) == 0 {
		return &state.Delta{
			History: []string{"[Judge] No active strategies to score"},
		}, nil
	}

	var sb strings.Builder
	for _, s := range actives {
		fmt.Fprintf(&sb, "id: %s\nname: %s\nassumption: %s\nrecent trajectory:\n%s\n\n",
			s.ID, s.Name, truncateRunes(s.Assumption, 200), bulletList(tailStrings(s.Trajectory, 3)))
	}
	prompt := fmt.Sprintf(judgePrompt, st.JudgeContext, sb.String())

	resp, err := j.deps.Inference.GenerateJSON(ctx, newRequest(st.Config, systemJSONOnly, prompt, tempJudge))
	if err != nil {
		j.deps.logger().Warn("judge call failed; scores carried over", "error", err)
		return &state.Delta{
			History: []string{fmt.Sprintf("[Judge] Scoring call failed (%v); keeping previous scores", err)},
		}, nil
	}

	var verdict judgement
	if resp.Parsed != nil {
		if err := json.Unmarshal(resp.Parsed, &verdict); err != nil {
			verdict = judgement{}
		}
	}
	if len(verdict.Scores) == 0 {
		j.deps.logger().Warn("judge response carried no scores; scores carried over")
		return &state.Delta{
			History: []string{"[Judge] Response carried no scores; keeping previous scores"},
		}, nil
	}

	strategies := state.CloneStrategies(st.Strategies)
	scored, kept := 0, 0
	for i := range strategies {
		if strategies[i].Status != state.StatusActive {
			continue
		}
		v, ok := verdict.Scores[strategies[i].ID]
		if !ok {
			kept++
			continue
		}
		strategies[i].Score = clampUnit(v)
		strategies[i].Judged = true
		scored++
	}

	j.archiveObservations(ctx, verdict.KBWrites, st.IterationCount)

	entry := fmt.Sprintf("[Judge] Scored %d of %d active strategies", scored, scored+kept)
	if kept > 0 {
		entry += fmt.Sprintf(" (%d kept previous scores)", kept)
	}
	return &state.Delta{
		Strategies: strategies,
		History:    []string{entry},
	}, nil
}

// archiveObservations forwards optional model observations to the knowledge
// base. No KB wired means they are dropped without ceremony.
func (j *Judge) archiveObservations(ctx context.Context, writes []kbWrite, iteration int) {
	if j.deps.KB == nil || len(writes) == 0 {
		return
	}
	for _, w := range writes {
		if strings.TrimSpace(w.Title) == "" || strings.TrimSpace(w.Content) == "" {
			continue
		}
		rec := knowledge.Record{
			Title:    w.Title,
			Content:  w.Content,
			Type:     knowledge.RecordType(w.Type),
			Tags:     w.Tags,
			Metadata: map[string]string{"iteration": fmt.Sprintf("%d", iteration)},
		}
		if err := j.deps.KB.WriteExperience(ctx, rec); err != nil {
			j.deps.logger().Warn("judge observation not archived", "title", w.Title, "error", err)
		}
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tailStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}
