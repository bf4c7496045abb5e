// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nodes implements the evolutionary beam search as a cyclic graph of
// agent nodes. The outer loop runs Decompose -> Research -> Distill ->
// Generate once, then cycles DistillerForJudge -> Judge -> Evolution ->
// Propagation -> ArchitectScheduler -> Executor until the entropy of the
// strategy population settles or the iteration budget runs out.
//
// Every node receives the shared Deps bundle and returns a state.Delta; the
// engine owns the state and applies deltas between steps. Nodes never mutate
// the RunState they are handed.
package nodes

import (
	"fmt"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/engine"
)

// Node names. These appear in history lines, events, and traces, so they are
// stable identifiers rather than display strings.
const (
	NodeDecomposer     = "TaskDecomposer"
	NodeResearcher     = "Researcher"
	NodeDistiller      = "Distiller"
	NodeGenerator      = "StrategyGenerator"
	NodeJudgeDistiller = "DistillerForJudge"
	NodeJudge          = "Judge"
	NodeEvolution      = "Evolution"
	NodePropagation    = "Propagation"
	NodeArchitect      = "ArchitectScheduler"
	NodeExecutor       = "Executor"
)

// BuildGraph wires the ten nodes into the search topology.
//
//	TaskDecomposer -> Researcher <-> (loop until sufficient)
//	  -> Distiller -> StrategyGenerator
//	  -> DistillerForJudge -> Judge -> Evolution
//	  -> [converged? END : Propagation -> ArchitectScheduler -> Executor
//	       -> DistillerForJudge]
func BuildGraph(deps Deps) (*engine.Graph, error) {
	if deps.Inference == nil {
		return nil, fmt.Errorf("build graph: inference service is required")
	}
	return engine.NewBuilder("evolutionary_beam_search").
		AddNode(NewDecomposer(deps)).
		AddNode(NewResearcher(deps)).
		AddNode(NewDistiller(deps)).
		AddNode(NewGenerator(deps)).
		AddNode(NewJudgeDistiller(deps)).
		AddNode(NewJudge(deps)).
		AddNode(NewEvolution(deps)).
		AddNode(NewPropagation(deps)).
		AddNode(NewArchitect(deps)).
		AddNode(NewExecutor(deps)).
		SetEntry(NodeDecomposer).
		AddEdge(NodeDecomposer, NodeResearcher).
		AddConditionalEdge(NodeResearcher, ShouldResearchContinue).
		AddEdge(NodeDistiller, NodeGenerator).
		AddEdge(NodeGenerator, NodeJudgeDistiller).
		AddEdge(NodeJudgeDistiller, NodeJudge).
		AddEdge(NodeJudge, NodeEvolution).
		AddConditionalEdge(NodeEvolution, ShouldContinue).
		AddEdge(NodePropagation, NodeArchitect).
		AddEdge(NodeArchitect, NodeExecutor).
		AddEdge(NodeExecutor, NodeJudgeDistiller).
		Build()
}
