// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/knowledge"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

func scriptedDeps(backend *inference.Scripted) Deps {
	return Deps{Inference: backend}
}

func seededState(problem string, strategies ...state.Strategy) *state.RunState {
	st := state.New(problem, state.DefaultConfig())
	st.Strategies = strategies
	return st
}

func activeStrategy(name string, score float64) state.Strategy {
	s := state.NewStrategy(name, name+" rationale", name+" assumption", nil, "seed")
	s.Score = score
	s.Judged = true
	return s
}

func findByName(t *testing.T, strategies []state.Strategy, name string) *state.Strategy {
	t.Helper()
	for i := range strategies {
		if strategies[i].Name == name {
			return &strategies[i]
		}
	}
	t.Fatalf("no strategy named %q", name)
	return nil
}

func countStatus(strategies []state.Strategy, status state.Status) int {
	n := 0
	for i := range strategies {
		if strategies[i].Status == status {
			n++
		}
	}
	return n
}

func historyContains(t *testing.T, history []string, want string) {
	t.Helper()
	for _, h := range history {
		if strings.Contains(h, want) {
			return
		}
	}
	t.Fatalf("history %q missing %q", history, want)
}

// memKB records knowledge writes in memory.
type memKB struct {
	mu          sync.Mutex
	experiences []knowledge.Record
	archives    []knowledge.Record
	err         error
}

func (m *memKB) WriteExperience(_ context.Context, rec knowledge.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.experiences = append(m.experiences, rec)
	return nil
}

func (m *memKB) WriteStrategyArchive(_ context.Context, rec knowledge.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.archives = append(m.archives, rec)
	return nil
}

// staticQueue hands out its directives exactly once.
type staticQueue struct {
	mu    sync.Mutex
	items []SynthesisDirective
}

func (q *staticQueue) Drain() []SynthesisDirective {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// stubAsker returns a canned human response.
type stubAsker struct {
	response string
	err      error
	asked    int
	question string
}

func (a *stubAsker) AskHuman(_ context.Context, _, question, _ string, _ time.Duration) (string, error) {
	a.asked++
	a.question = question
	if a.err != nil {
		return "", a.err
	}
	return a.response, nil
}
