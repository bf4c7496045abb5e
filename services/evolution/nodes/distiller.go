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
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

// backgroundMarker guards problem-state augmentation: once present, the
// distiller never augments again.
const backgroundMarker = "[background]"

const (
	distillChunkSize    = 4000
	distillChunkOverlap = 400
)

// Distiller compresses the raw research context into a short brief and
// folds it into the problem statement. This runs once, before strategy
// generation, to stop context rot from dragging every later prompt down.
type Distiller struct {
	deps Deps
}

func NewDistiller(deps Deps) *Distiller {
	return &Distiller{deps: deps}
}

func (d *Distiller) Name() string { return NodeDistiller }

func (d *Distiller) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	raw := strings.TrimSpace(st.ResearchContext)
	if raw == "" {
		return &state.Delta{
			History: []string{"[Distiller] No research context to distill"},
		}, nil
	}

	rawTokens := EstimateTokens(raw)
	brief, degraded := d.distill(ctx, st.Config, raw, rawTokens)
	briefTokens := EstimateTokens(brief)

	delta := &state.Delta{
		ResearchContext: state.Ptr(brief),
	}
	if !strings.Contains(st.ProblemState, backgroundMarker) {
		delta.ProblemState = state.Ptr(st.ProblemState + "\n\n" + backgroundMarker + "\n" + brief)
	}

	entry := fmt.Sprintf("[Distiller] Compressed research context from ~%d to ~%d tokens", rawTokens, briefTokens)
	if degraded {
		entry = fmt.Sprintf("[Distiller] Distillation call failed; head-truncated research context to ~%d tokens", briefTokens)
	}
	delta.History = []string{entry}
	return delta, nil
}

// distill returns the brief and whether it fell back to truncation. Context
// above the distill threshold is chunked, each chunk summarised, and the
// summaries distilled together; below it a single call suffices.
func (d *Distiller) distill(ctx context.Context, cfg state.Config, raw string, rawTokens int) (string, bool) {
	source := raw
	if rawTokens > cfg.DistillThreshold {
		summaries, err := d.summarizeChunks(ctx, cfg, raw)
		if err != nil {
			d.deps.logger().Warn("chunked summarisation failed", "error", err)
			return headTruncate(raw, cfg.DistillThreshold), true
		}
		source = strings.Join(summaries, "\n\n")
	}

	resp, err := d.deps.Inference.GenerateJSON(ctx,
		newRequest(cfg, "", fmt.Sprintf(distillPrompt, source), tempDistill))
	if err != nil || strings.TrimSpace(resp.Raw) == "" {
		d.deps.logger().Warn("distillation call failed", "error", err)
		return headTruncate(raw, cfg.DistillThreshold), true
	}
	return strings.TrimSpace(resp.Raw), false
}

func (d *Distiller) summarizeChunks(ctx context.Context, cfg state.Config, raw string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(distillChunkSize),
		textsplitter.WithChunkOverlap(distillChunkOverlap),
		textsplitter.WithSeparators([]string{"\n## ", "\n### ", "\n\n", "\n", " "}),
	)
	chunks, err := splitter.SplitText(raw)
	if err != nil {
		return nil, fmt.Errorf("split research context: %w", err)
	}

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		resp, err := d.deps.Inference.GenerateJSON(ctx,
			newRequest(cfg, "", fmt.Sprintf(chunkSummaryPrompt, chunk), tempDistill))
		if err != nil {
			return nil, fmt.Errorf("summarise chunk %d of %d: %w", i+1, len(chunks), err)
		}
		summaries = append(summaries, strings.TrimSpace(resp.Raw))
	}
	return summaries, nil
}

// headTruncate keeps roughly the first maxTokens worth of s.
func headTruncate(s string, maxTokens int) string {
	runes := []rune(s)
	limit := maxTokens * 4
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
