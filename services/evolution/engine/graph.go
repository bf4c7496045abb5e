// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine executes the evolution agent graph.
//
// A graph is a set of named nodes connected by static edges and conditional
// routers. Unlike a dependency DAG the evolution graph is cyclic: the
// judge/evolve/propagate/execute loop revisits the same nodes every
// iteration, so termination comes from routers returning End and from the
// per-run node visit budget rather than from topology.
package engine

import (
	"context"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

// End is the routing label that terminates a run.
const End = "END"

// Node is one agent in the evolution graph.
//
// Description:
//
//	A node reads the current run state and returns a delta describing the
//	fields it changed. Nodes never mutate the state they are given; the
//	engine merges the delta after the node returns.
//
// Thread Safety: Run is invoked from a single goroutine per run. A node
// shared between runs must be stateless or synchronize internally.
type Node interface {
	// Name returns the node's unique identifier.
	Name() string

	// Run executes the node against the current state.
	Run(ctx context.Context, st *state.RunState) (*state.Delta, error)
}

// Router selects the next node after a conditional edge. It returns a node
// name or End.
type Router func(st *state.RunState) string

// NodeFunc wraps a function as a Node for simple cases and tests.
type NodeFunc struct {
	name string
	fn   func(ctx context.Context, st *state.RunState) (*state.Delta, error)
}

// NewNodeFunc creates a node from a function.
func NewNodeFunc(name string, fn func(ctx context.Context, st *state.RunState) (*state.Delta, error)) *NodeFunc {
	return &NodeFunc{name: name, fn: fn}
}

// Name returns the node's unique identifier.
func (n *NodeFunc) Name() string {
	return n.name
}

// Run executes the wrapped function.
func (n *NodeFunc) Run(ctx context.Context, st *state.RunState) (*state.Delta, error) {
	if n.fn == nil {
		return nil, ErrNilNode
	}
	return n.fn(ctx, st)
}

// Graph is a validated, immutable node graph ready to run.
type Graph struct {
	name    string
	entry   string
	nodes   map[string]Node
	edges   map[string]string
	routers map[string]Router
}

// Name returns the graph name used in logs and spans.
func (g *Graph) Name() string {
	return g.name
}

// Entry returns the entry node name.
func (g *Graph) Entry() string {
	return g.entry
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// next resolves the node that follows current for the given state.
func (g *Graph) next(current string, st *state.RunState) (string, bool) {
	if router, ok := g.routers[current]; ok {
		return router(st), true
	}
	to, ok := g.edges[current]
	return to, ok
}

// Builder constructs a Graph with validation.
//
// Description:
//
//	Builder provides a fluent API for assembling the agent graph. Errors
//	accumulate during construction and surface from Build, so call sites
//	can chain without checking each step.
//
// Thread Safety: Builder is NOT safe for concurrent use.
//
// Example:
//
//	g, err := engine.NewBuilder("evolution").
//	    AddNode(decomposer).
//	    AddNode(researcher).
//	    SetEntry("task_decomposer").
//	    AddEdge("task_decomposer", "researcher").
//	    AddConditionalEdge("researcher", researchRouter).
//	    Build()
type Builder struct {
	name    string
	entry   string
	nodes   map[string]Node
	edges   map[string]string
	routers map[string]Router
	errors  []error
}

// NewBuilder creates a graph builder.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:    name,
		nodes:   make(map[string]Node),
		edges:   make(map[string]string),
		routers: make(map[string]Router),
	}
}

// AddNode adds a node to the graph.
func (b *Builder) AddNode(node Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, ErrNilNode)
		return b
	}
	name := node.Name()
	if name == "" || name == End {
		b.errors = append(b.errors, NewNodeError(name, 0, ErrNilNode))
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.errors = append(b.errors, NewNodeError(name, 0, ErrDuplicateNode))
		return b
	}
	b.nodes[name] = node
	return b
}

// SetEntry sets the node a run starts from.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge adds a static edge. Each node may have at most one outgoing
// static edge; the target may be End.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, exists := b.edges[from]; exists {
		b.errors = append(b.errors, NewNodeError(from, 0, ErrConflictingRoute))
		return b
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdge attaches a router to a node. The router picks the
// next node at runtime from the merged state.
func (b *Builder) AddConditionalEdge(from string, router Router) *Builder {
	if router == nil {
		b.errors = append(b.errors, NewNodeError(from, 0, ErrNilNode))
		return b
	}
	if _, exists := b.routers[from]; exists {
		b.errors = append(b.errors, NewNodeError(from, 0, ErrConflictingRoute))
		return b
	}
	b.routers[from] = router
	return b
}

// Build validates and constructs the Graph.
//
// Description:
//
//	Validates that the entry exists, that every edge references known
//	nodes, that no node carries both a static edge and a router, and
//	that every node has some outgoing route. Routers are opaque so
//	their targets are checked at runtime, not here.
//
// Outputs:
//
//	*Graph - The constructed graph.
//	error - Non-nil if validation fails; the first accumulated error wins.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if len(b.nodes) == 0 {
		return nil, ErrEmptyGraph
	}
	if b.entry == "" {
		return nil, ErrNoEntry
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, NewNodeError(b.entry, 0, ErrNodeNotFound)
	}

	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, NewNodeError(from, 0, ErrNodeNotFound)
		}
		if _, ok := b.routers[from]; ok {
			return nil, NewNodeError(from, 0, ErrConflictingRoute)
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				return nil, NewNodeError(to, 0, ErrNodeNotFound)
			}
		}
	}
	for from := range b.routers {
		if _, ok := b.nodes[from]; !ok {
			return nil, NewNodeError(from, 0, ErrNodeNotFound)
		}
	}
	for name := range b.nodes {
		if _, hasEdge := b.edges[name]; hasEdge {
			continue
		}
		if _, hasRouter := b.routers[name]; hasRouter {
			continue
		}
		return nil, NewNodeError(name, 0, ErrNoRoute)
	}

	return &Graph{
		name:    b.name,
		entry:   b.entry,
		nodes:   b.nodes,
		edges:   b.edges,
		routers: b.routers,
	}, nil
}
