// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine package.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilState is returned when Run is given a nil state.
	ErrNilState = errors.New("state must not be nil")

	// ErrNilNode is returned when a nil node is added to the graph.
	ErrNilNode = errors.New("node must not be nil")

	// ErrDuplicateNode is returned when adding a node with an existing name.
	ErrDuplicateNode = errors.New("node with this name already exists")

	// ErrNodeNotFound is returned when a route targets an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoEntry is returned when the graph has no entry point set.
	ErrNoEntry = errors.New("graph entry point not set")

	// ErrNoRoute is returned when a node has no outgoing edge or router.
	ErrNoRoute = errors.New("node has no outgoing route")

	// ErrConflictingRoute is returned when a node has both a static edge
	// and a conditional router.
	ErrConflictingRoute = errors.New("node has both a static edge and a router")

	// ErrEmptyGraph is returned when building a graph with no nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")

	// ErrRuntimeExhausted is returned when a run exceeds its node visit
	// budget without reaching the end of the graph.
	ErrRuntimeExhausted = errors.New("node visit budget exhausted")

	// ErrStateRejected is returned when a node's delta leaves the run
	// state inconsistent.
	ErrStateRejected = errors.New("merged state failed validation")
)

// NodeError wraps an error with the node and visit that produced it.
type NodeError struct {
	Node  string
	Visit int
	Err   error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (visit %d): %v", e.Node, e.Visit, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError creates a NodeError.
func NewNodeError(node string, visit int, err error) *NodeError {
	return &NodeError{
		Node:  node,
		Visit: visit,
		Err:   err,
	}
}
