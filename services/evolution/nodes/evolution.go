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
	"math"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/mathx"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

const (
	// unjudgedScore substitutes for strategies the Judge has never scored.
	unjudgedScore = 0.5

	// tempCeiling bounds stored temperatures; +Inf does not serialize.
	tempCeiling = 1e9
)

// Evolution performs one selection round: embed, estimate density, infer
// the population temperature, rank by UCB, and soft-prune by Boltzmann
// child allocation. It never hard-prunes; a zero quota just means no
// children this round.
//
// # Description
//
// Order per visit: (1) embed actives lacking an embedding (bounded fan-out;
// failures become pruned_error), (2) Gaussian KDE with adaptive bandwidth
// over the embedded actives, (3) T_eff from the value/log-density
// regression and tau = T_eff/T_max, (4) UCB scores, (5) Boltzmann quota
// allocation capped to beam_width by UCB rank, (6) entropy and iteration
// bookkeeping.
//
// # Thread Safety
//
// Run mutates only its own clone of the population; the engine applies the
// returned delta.
type Evolution struct {
	deps Deps
}

func NewEvolution(deps Deps) *Evolution {
	return &Evolution{deps: deps}
}

func (e *Evolution) Name() string { return NodeEvolution }

func (e *Evolution) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	strategies := state.CloneStrategies(st.Strategies)
	iteration := st.IterationCount + 1

	failures, err := e.embedMissing(ctx, strategies, st.Config)
	if err != nil {
		return nil, err
	}

	var idx []int
	for i := range strategies {
		if strategies[i].Status == state.StatusActive && len(strategies[i].Embedding) > 0 {
			idx = append(idx, i)
		}
	}

	history := make([]string, 0, 2)
	if failures > 0 {
		history = append(history, fmt.Sprintf("[Evolution] %d strategies pruned after embedding failures", failures))
	}

	if len(idx) == 0 {
		history = append(history, "[Evolution] No embedded active strategies; nothing to evolve")
		return &state.Delta{
			Strategies:     strategies,
			IterationCount: state.Ptr(iteration),
			History:        history,
		}, nil
	}

	x := make([][]float64, len(idx))
	for k, i := range idx {
		x[k] = strategies[i].Embedding
	}
	distSq := mathx.PairwiseDistSq(x)
	h := mathx.AdaptiveBandwidth(distSq)
	logp := mathx.KDELogDensities(x, h, e.deps.logger())

	values := make([]float64, len(idx))
	densities := make([]float64, len(idx))
	for k, i := range idx {
		p := math.Exp(logp[k])
		strategies[i].LogDensity = state.Ptr(logp[k])
		strategies[i].Density = state.Ptr(p)
		densities[k] = p

		v := strategies[i].Score
		if !strategies[i].Judged {
			v = unjudgedScore
		}
		values[k] = v
	}

	// A singleton population has no value/density gradient to regress.
	tEff := math.Inf(1)
	if len(idx) >= 2 {
		tEff = mathx.EffectiveTemperature(values, logp)
	}
	tau := mathx.NormalizedTemperature(tEff, st.Config.TMax)

	ucb := mathx.UCBScores(values, densities, st.Config.CExplore, tau)
	ucbValues := make([]float64, len(ucb))
	for k := range ucb {
		ucbValues[k] = ucb[k].Score
		strategies[idx[k]].UCBScore = state.Ptr(ucb[k].Score)
	}

	quotas := mathx.BoltzmannAllocate(values, st.Config.TotalChildBudget, tEff, st.Config.MinAllocation, e.deps.Rand)
	if st.Config.BeamWidth > 0 {
		mathx.CapQuotas(quotas, ucbValues, st.Config.BeamWidth)
	}
	allocated := 0
	for k, i := range idx {
		strategies[i].ChildQuota = quotas[k]
		allocated += quotas[k]
	}

	entropy := mathx.SpatialEntropy(logp)
	history = append(history, fmt.Sprintf(
		"[Evolution] Iteration %d: T_eff=%s tau=%s entropy=%.3f h=%.3f; distributed %d children across %d strategies",
		iteration, fmtTemp(tEff), fmtTemp(tau), entropy, h, allocated, len(idx)))

	delta := &state.Delta{
		Strategies:            strategies,
		SpatialEntropy:        state.Ptr(entropy),
		EffectiveTemperature:  state.Ptr(mathx.ClampTemperature(tEff, tempCeiling)),
		NormalizedTemperature: state.Ptr(mathx.ClampTemperature(tau, tempCeiling)),
		IterationCount:        state.Ptr(iteration),
		History:               history,
	}
	if st.SpatialEntropy != nil {
		delta.PrevSpatialEntropy = state.Ptr(*st.SpatialEntropy)
	}
	return delta, nil
}

// embedMissing fills embeddings for actives lacking one, with bounded
// concurrency. Failed strategies become pruned_error; a cancelled context
// aborts the whole visit instead.
func (e *Evolution) embedMissing(ctx context.Context, strategies []state.Strategy, cfg state.Config) (int, error) {
	var targets []int
	for i := range strategies {
		if strategies[i].Status == state.StatusActive && len(strategies[i].Embedding) == 0 {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	vecs := make([][]float64, len(targets))
	errs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.EmbedConcurrency)
	for k, i := range targets {
		g.Go(func() error {
			vec, err := e.deps.Inference.Embed(gctx, strategies[i].Text())
			if err == nil && len(vec) == 0 {
				err = inference.ErrEmptyResponse
			}
			vecs[k], errs[k] = vec, err
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	failures := 0
	for k, i := range targets {
		if errs[k] != nil {
			failures++
			strategies[i].Status = state.StatusPrunedError
			strategies[i].ChildQuota = 0
			strategies[i].AppendTrajectory(fmt.Sprintf("[Evolution] Embedding failed: %v", errs[k]))
			e.deps.logger().Warn("strategy pruned after embedding failure",
				"strategy_id", strategies[i].ID, "error", errs[k])
			continue
		}
		strategies[i].Embedding = vecs[k]
	}
	return failures, nil
}

func fmtTemp(t float64) string {
	if math.IsInf(t, 1) {
		return "inf"
	}
	return strconv.FormatFloat(t, 'f', 3, 64)
}
