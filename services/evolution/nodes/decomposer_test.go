// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

func TestDecomposerParsesSubtasksAndNeeds(t *testing.T) {
	backend := inference.NewScripted(`{
		"subtasks": ["survey the market", "estimate the cost"],
		"information_needs": [
			{"topic": "competitor pricing", "type": "factual", "priority": 3},
			{"topic": "rollout steps", "type": "bogus", "priority": 9},
			{"topic": "", "type": "factual", "priority": 1}
		]
	}`)
	node := NewDecomposer(scriptedDeps(backend))
	st := seededState("launch a product")

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.Subtasks) != 2 {
		t.Fatalf("subtasks = %d, want 2", len(delta.Subtasks))
	}
	if len(delta.InformationNeeds) != 2 {
		t.Fatalf("needs = %d, want 2 (empty topic dropped)", len(delta.InformationNeeds))
	}
	if delta.InformationNeeds[1].Type != state.NeedFactual {
		t.Errorf("invalid need type coerced to %q, want factual", delta.InformationNeeds[1].Type)
	}
	if delta.InformationNeeds[1].Priority != 5 {
		t.Errorf("priority = %d, want clamp to 5", delta.InformationNeeds[1].Priority)
	}
	historyContains(t, delta.History, "Split the problem into 2 subtasks")
}

func TestDecomposerFallsBackOnBadJSON(t *testing.T) {
	backend := inference.NewScripted("I cannot answer in JSON, sorry.")
	node := NewDecomposer(scriptedDeps(backend))
	st := seededState("launch a product")

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(delta.Subtasks) != 1 || delta.Subtasks[0] != "launch a product" {
		t.Fatalf("fallback subtasks = %v, want the problem itself", delta.Subtasks)
	}
	if len(delta.InformationNeeds) != 1 || delta.InformationNeeds[0].Priority != 5 {
		t.Fatalf("fallback needs = %v, want one priority-5 need", delta.InformationNeeds)
	}
	historyContains(t, delta.History, "Decomposition failed")
}

func TestDecomposerFallsBackOnProviderError(t *testing.T) {
	backend := inference.NewScripted()
	backend.GenerateErr = errors.New("backend down")
	node := NewDecomposer(scriptedDeps(backend))
	st := seededState("launch a product")

	delta, err := node.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("provider failure must degrade, not fail the node: %v", err)
	}
	if len(delta.Subtasks) != 1 {
		t.Fatalf("fallback subtasks = %v", delta.Subtasks)
	}
}
