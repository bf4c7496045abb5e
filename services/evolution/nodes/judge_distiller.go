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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

const (
	judgeTopActive   = 5
	judgeTopPruned   = 3
	judgeTopExpanded = 3
	judgeHistoryTail = 5
)

// JudgeDistiller rebuilds the judge context before every Judge visit. It is
// a pure function of state: no inference, no clock, no randomness. Two runs
// on identical state produce identical bytes.
type JudgeDistiller struct {
	deps Deps
}

func NewJudgeDistiller(deps Deps) *JudgeDistiller {
	return &JudgeDistiller{deps: deps}
}

func (j *JudgeDistiller) Name() string { return NodeJudgeDistiller }

func (j *JudgeDistiller) Run(_ context.Context, st *state.RunState) (*state.Delta, error) {
	md := buildJudgeContext(st)
	if EstimateTokens(md) > st.Config.DistillThreshold {
		md = headTruncate(md, st.Config.DistillThreshold)
	}
	return &state.Delta{
		JudgeContext: state.Ptr(md),
		History:      []string{fmt.Sprintf("[DistillerForJudge] Rebuilt judge context (~%d tokens)", EstimateTokens(md))},
	}, nil
}

func buildJudgeContext(st *state.RunState) string {
	var active, pruned, expanded []state.Strategy
	for _, s := range st.Strategies {
		switch s.Status {
		case state.StatusActive:
			active = append(active, s)
		case state.StatusExpanded:
			expanded = append(expanded, s)
		case state.StatusPruned, state.StatusPrunedError, state.StatusPrunedSynthesized:
			pruned = append(pruned, s)
		}
	}

	var b strings.Builder
	b.WriteString("# Evaluation Brief\n\n")

	b.WriteString("## Problem\n")
	b.WriteString(truncateRunes(firstLine(st.ProblemState), 200))
	b.WriteString("\n\n")

	b.WriteString("## Search State\n")
	fmt.Fprintf(&b, "Iteration %d | T_eff %s | tau %s | entropy %s (prev %s)\n\n",
		st.IterationCount,
		fmtMetric(st.EffectiveTemperature),
		fmtMetric(st.NormalizedTemperature),
		fmtMetric(st.SpatialEntropy),
		fmtMetric(st.PrevSpatialEntropy),
	)

	writeGroup(&b, "Active Strategies", active, judgeTopActive)
	writeGroup(&b, "Pruned", pruned, judgeTopPruned)
	writeGroup(&b, "Expanded", expanded, judgeTopExpanded)

	b.WriteString("## Recent History\n")
	tail := st.HistoryTail(judgeHistoryTail)
	if len(tail) == 0 {
		b.WriteString("(none)\n")
	}
	for _, h := range tail {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	return b.String()
}

// writeGroup renders the top n of group by score. Sorting is stable with an
// id tie-break so identical states serialize identically.
func writeGroup(b *strings.Builder, title string, group []state.Strategy, n int) {
	sort.SliceStable(group, func(i, j int) bool {
		if group[i].Score != group[j].Score {
			return group[i].Score > group[j].Score
		}
		return group[i].ID < group[j].ID
	})

	shown := len(group)
	if shown > n {
		shown = n
	}
	fmt.Fprintf(b, "## %s (top %d of %d by score)\n", title, shown, len(group))
	if shown == 0 {
		b.WriteString("(none)\n\n")
		return
	}
	for _, s := range group[:shown] {
		fmt.Fprintf(b, "- [%s] %s | score %s | quota %d | %s\n",
			shortID(s.ID),
			s.Name,
			strconv.FormatFloat(s.Score, 'f', 3, 64),
			s.ChildQuota,
			truncateRunes(firstLine(s.Rationale), 160),
		)
	}
	b.WriteString("\n")
}

func fmtMetric(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*p, 'f', 3, 64)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
