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
	"log/slog"
	"math/rand"
	"time"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

// KnowledgeBase is the subset of the knowledge archive the nodes use.
// Nil means no archive is wired; writes are skipped silently.
type KnowledgeBase interface {
	WriteExperience(ctx context.Context, rec knowledge.Record) error
	WriteStrategyArchive(ctx context.Context, rec knowledge.Record) error
}

// SynthesisDirective is an operator command to fold the named strategies
// into the report. Queued by the supervisor, drained by the scheduler.
type SynthesisDirective struct {
	StrategyIDs []string `json:"strategy_ids"`
	Message     string   `json:"message,omitempty"`
}

// DirectiveQueue hands pending force-synthesize directives to the scheduler.
type DirectiveQueue interface {
	// Drain removes and returns all pending directives, oldest first.
	Drain() []SynthesisDirective
}

// Asker routes a question to a human observer and blocks until a response
// arrives or the timeout elapses (the timeout path returns a sentinel
// string, not an error).
type Asker interface {
	AskHuman(ctx context.Context, agent, question, detail string, timeout time.Duration) (string, error)
}

// Deps carries every external dependency a node may touch. Inference is
// required; the rest are optional and nil-checked at use sites.
type Deps struct {
	Inference inference.Service

	// KB receives Judge observations and synthesis branch archives.
	KB KnowledgeBase

	// Directives feeds operator force-synthesize commands to the scheduler.
	Directives DirectiveQueue

	// Asker, when set together with a positive SynthesisReviewTimeout,
	// lets a human veto model-initiated synthesis before strategies are
	// hard-pruned. Operator-forced synthesis is never reviewed.
	Asker                  Asker
	SynthesisReviewTimeout time.Duration

	// Coupling overrides the config-derived LLM temperature source.
	Coupling Coupling

	// Rand drives sub-1 quota rounding. Nil selects the deterministic rule.
	Rand *rand.Rand

	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// =============================================================================
// Temperature Coupling
// =============================================================================

// Coupling maps the population's normalized temperature to the LLM sampling
// temperature used during propagation.
type Coupling interface {
	LLMTemperature(tau float64) float32
}

// AutoCoupling ties generation heat to the search: hot populations explore,
// cold populations exploit. The result is clipped into [0, 2].
type AutoCoupling struct{}

func (AutoCoupling) LLMTemperature(tau float64) float32 {
	switch {
	case tau < 0:
		return 0
	case tau > 2:
		return 2
	default:
		return float32(tau)
	}
}

// ManualCoupling pins the generation temperature regardless of the
// population state.
type ManualCoupling struct {
	Temp float32
}

func (c ManualCoupling) LLMTemperature(float64) float32 {
	return c.Temp
}

// CouplingFromConfig selects the coupling strategy the run configured.
func CouplingFromConfig(cfg state.Config) Coupling {
	if cfg.TemperatureCoupling == state.CouplingManual {
		return ManualCoupling{Temp: float32(cfg.ManualLLMTemperature)}
	}
	return AutoCoupling{}
}
