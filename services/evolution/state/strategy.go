// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state defines the run state that flows through the evolution graph.
//
// A run owns a flat population of Strategy records plus the scalar metrics
// (entropy, temperature) that drive convergence. Nodes never mutate the state
// they receive; they return a Delta and the engine merges it. Subscribers
// always see deep copies, never live references.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// Strategy Status
// =============================================================================

// Status is the lifecycle stage of a strategy.
type Status string

const (
	// StatusActive strategies compete for child quota and execution.
	StatusActive Status = "active"

	// StatusExpanded strategies have emitted their children and left the
	// active pool. Their subtree carries on.
	StatusExpanded Status = "expanded"

	// StatusPruned strategies were dropped without synthesis.
	StatusPruned Status = "pruned"

	// StatusPrunedSynthesized strategies were folded into a report by the
	// Executor. Terminal; no node may re-activate them.
	StatusPrunedSynthesized Status = "pruned_synthesized"

	// StatusPrunedError strategies failed embedding and were removed from
	// density computation.
	StatusPrunedError Status = "pruned_error"

	// StatusCompleted strategies finished their milestones.
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the recognized lifecycle stages.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpanded, StatusPruned, StatusPrunedSynthesized,
		StatusPrunedError, StatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether a strategy in this status may never become
// active again.
func (s Status) Terminal() bool {
	return s == StatusPrunedSynthesized
}

// =============================================================================
// Strategy
// =============================================================================

// Strategy is the unit of evolutionary selection.
//
// # Fields
//
//   - ID: unique within a run, stable across the strategy's lifetime.
//   - Name, Rationale, Assumption: generator-produced descriptors.
//   - Milestones: opaque structured payload, passed through untouched.
//   - Embedding: D-dimensional vector assigned on first evaluation; nil
//     until assigned, immutable afterwards.
//   - Density, LogDensity: KDE results over the active population; nil
//     until computed.
//   - Score: Judge value in [0,1]; starts at 0. Judged records whether the
//     Judge has ever scored this strategy, so a genuine zero is not mistaken
//     for the never-scored default.
//   - UCBScore: derived ranking scalar; nil until ranked.
//   - ChildQuota: children this strategy may emit in the next Propagation.
//     Non-zero only while Status is active.
//   - Trajectory: terse audit strings appended by every node that touches
//     the strategy.
//   - ParentID: id of the strategy this one was derived from; "" for roots.
//   - PrunedAtReportVersion: set when hard-pruned during synthesis.
type Strategy struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Rationale             string          `json:"rationale"`
	Assumption            string          `json:"assumption"`
	Milestones            json.RawMessage `json:"milestones,omitempty"`
	Embedding             []float64       `json:"embedding,omitempty"`
	Density               *float64        `json:"density,omitempty"`
	LogDensity            *float64        `json:"log_density,omitempty"`
	Score                 float64         `json:"score"`
	Judged                bool            `json:"judged,omitempty"`
	UCBScore              *float64        `json:"ucb_score,omitempty"`
	ChildQuota            int             `json:"child_quota"`
	Status                Status          `json:"status"`
	Trajectory            []string        `json:"trajectory"`
	ParentID              string          `json:"parent_id,omitempty"`
	PrunedAtReportVersion int             `json:"pruned_at_report_version,omitempty"`
}

// NewStrategy builds an active strategy with a fresh id, zeroed metrics, and
// the given first trajectory entry.
func NewStrategy(name, rationale, assumption string, milestones json.RawMessage, firstStep string) Strategy {
	return Strategy{
		ID:         uuid.NewString(),
		Name:       name,
		Rationale:  rationale,
		Assumption: assumption,
		Milestones: milestones,
		Status:     StatusActive,
		Trajectory: []string{firstStep},
	}
}

// Text returns the concatenation used for embedding: name, rationale, and
// assumption.
func (s *Strategy) Text() string {
	return fmt.Sprintf("%s\n%s\n%s", s.Name, s.Rationale, s.Assumption)
}

// AppendTrajectory records one audit step on the strategy.
func (s *Strategy) AppendTrajectory(step string) {
	s.Trajectory = append(s.Trajectory, step)
}

// Clone returns a deep copy. Pointer metrics, the embedding, the milestones
// payload, and the trajectory are all copied.
func (s *Strategy) Clone() Strategy {
	out := *s
	if s.Embedding != nil {
		out.Embedding = append([]float64(nil), s.Embedding...)
	}
	if s.Milestones != nil {
		out.Milestones = append(json.RawMessage(nil), s.Milestones...)
	}
	if s.Trajectory != nil {
		out.Trajectory = append([]string(nil), s.Trajectory...)
	}
	out.Density = cloneFloat(s.Density)
	out.LogDensity = cloneFloat(s.LogDensity)
	out.UCBScore = cloneFloat(s.UCBScore)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// CloneStrategies deep-copies a population slice.
func CloneStrategies(in []Strategy) []Strategy {
	if in == nil {
		return nil
	}
	out := make([]Strategy, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
