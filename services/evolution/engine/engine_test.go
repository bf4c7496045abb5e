// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

func newRunState() *state.RunState {
	return state.New("test problem", state.DefaultConfig())
}

func historyNode(name string) *NodeFunc {
	return NewNodeFunc(name, func(_ context.Context, _ *state.RunState) (*state.Delta, error) {
		return &state.Delta{History: []string{"[" + name + "] visited"}}, nil
	})
}

func TestRunLinearGraph(t *testing.T) {
	g, err := NewBuilder("linear").
		AddNode(historyNode("a")).
		AddNode(historyNode("b")).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", End).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	e, err := New(g)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	st := newRunState()
	if err := e.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []string{"[a] visited", "[b] visited"}
	if len(st.History) != len(want) {
		t.Fatalf("history = %v, want %v", st.History, want)
	}
	for i := range want {
		if st.History[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, st.History[i], want[i])
		}
	}
}

func TestRunFollowsRouterLoop(t *testing.T) {
	visits := 0
	loop := NewNodeFunc("loop", func(_ context.Context, _ *state.RunState) (*state.Delta, error) {
		visits++
		return &state.Delta{History: []string{fmt.Sprintf("loop %d", visits)}}, nil
	})

	g, err := NewBuilder("cycle").
		AddNode(loop).
		SetEntry("loop").
		AddConditionalEdge("loop", func(st *state.RunState) string {
			if len(st.History) >= 3 {
				return End
			}
			return "loop"
		}).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	e, _ := New(g)
	st := newRunState()
	if err := e.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if visits != 3 {
		t.Errorf("node visited %d times, want 3", visits)
	}
}

func TestRunExhaustsVisitBudget(t *testing.T) {
	g, err := NewBuilder("forever").
		AddNode(historyNode("spin")).
		SetEntry("spin").
		AddConditionalEdge("spin", func(_ *state.RunState) string { return "spin" }).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	e, _ := New(g)
	st := newRunState()
	st.Config.MaxNodeVisits = 5

	err = e.Run(context.Background(), st)
	if !errors.Is(err, ErrRuntimeExhausted) {
		t.Fatalf("Run() error = %v, want ErrRuntimeExhausted", err)
	}

	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatal("error is not a *NodeError")
	}
	if nodeErr.Node != "spin" {
		t.Errorf("NodeError.Node = %q, want %q", nodeErr.Node, "spin")
	}
	if nodeErr.Visit != 6 {
		t.Errorf("NodeError.Visit = %d, want 6", nodeErr.Visit)
	}
	// Exactly budget visits merged before the guard tripped.
	if len(st.History) != 5 {
		t.Errorf("history has %d entries, want 5", len(st.History))
	}
}

func TestRunNodeErrorPropagates(t *testing.T) {
	boom := errors.New("provider unreachable")
	failing := NewNodeFunc("judge", func(_ context.Context, _ *state.RunState) (*state.Delta, error) {
		return nil, boom
	})

	g, err := NewBuilder("fails").
		AddNode(historyNode("a")).
		AddNode(failing).
		SetEntry("a").
		AddEdge("a", "judge").
		AddEdge("judge", End).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	e, _ := New(g)
	err = e.Run(context.Background(), newRunState())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, boom)
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "judge" {
		t.Errorf("error does not identify the failing node: %v", err)
	}
}

func TestRunRecoversNodePanic(t *testing.T) {
	panics := NewNodeFunc("wild", func(_ context.Context, _ *state.RunState) (*state.Delta, error) {
		panic("index out of range")
	})

	g, err := NewBuilder("panics").
		AddNode(panics).
		SetEntry("wild").
		AddEdge("wild", End).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	e, _ := New(g)
	err = e.Run(context.Background(), newRunState())
	if err == nil {
		t.Fatal("Run() succeeded, want panic converted to error")
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "wild" {
		t.Errorf("panic error does not identify the node: %v", err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	g, _ := NewBuilder("t").
		AddNode(historyNode("a")).
		SetEntry("a").
		AddEdge("a", End).
		Build()
	e, _ := New(g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx, newRunState())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunRejectsInvalidMergedState(t *testing.T) {
	corrupt := NewNodeFunc("corrupt", func(_ context.Context, _ *state.RunState) (*state.Delta, error) {
		return &state.Delta{
			Strategies: []state.Strategy{
				{ID: "dup", Status: state.StatusActive},
				{ID: "dup", Status: state.StatusActive},
			},
		}, nil
	})

	g, err := NewBuilder("t").
		AddNode(corrupt).
		SetEntry("corrupt").
		AddEdge("corrupt", End).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	e, _ := New(g)
	err = e.Run(context.Background(), newRunState())
	if !errors.Is(err, ErrStateRejected) {
		t.Fatalf("Run() error = %v, want ErrStateRejected", err)
	}
}

func TestRunEmitsNodeBoundaryEvents(t *testing.T) {
	em := events.NewEmitter(nil)
	c := events.NewCollector(em)

	g, _ := NewBuilder("t").
		AddNode(historyNode("a")).
		SetEntry("a").
		AddEdge("a", End).
		Build()
	e, _ := New(g, WithEmitter(em))

	if err := e.Run(context.Background(), newRunState()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	em.Close()
	c.Wait()

	var types []events.Type
	for _, ev := range c.Events() {
		types = append(types, ev.Type)
	}
	want := []events.Type{
		events.TypeAgentStart,
		events.TypeStateUpdate,
		events.TypeAgentProgress,
		events.TypeAgentComplete,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestStateUpdateCarriesNodeDelta(t *testing.T) {
	em := events.NewEmitter(nil)
	c := events.NewCollector(em)

	reframe := NewNodeFunc("reframe", func(_ context.Context, _ *state.RunState) (*state.Delta, error) {
		return &state.Delta{ProblemState: state.Ptr("reframed problem")}, nil
	})
	g, _ := NewBuilder("t").
		AddNode(reframe).
		SetEntry("reframe").
		AddEdge("reframe", End).
		Build()
	e, _ := New(g, WithEmitter(em))

	if err := e.Run(context.Background(), newRunState()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	em.Close()
	c.Wait()

	updates := c.ByType(events.TypeStateUpdate)
	if len(updates) != 1 {
		t.Fatalf("state_update events = %d, want 1", len(updates))
	}
	var su events.StateUpdate
	if err := json.Unmarshal(updates[0].Data, &su); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if su.Delta == nil || su.Delta.ProblemState == nil {
		t.Fatalf("payload %s carries no delta", updates[0].Data)
	}
	if got := *su.Delta.ProblemState; got != "reframed problem" {
		t.Errorf("delta problem state = %q, want the node's partial", got)
	}
}

func TestErrorEventOmitsFailureDetail(t *testing.T) {
	em := events.NewEmitter(nil)
	c := events.NewCollector(em)

	boom := errors.New("401 from provider: key sk-test rejected")
	failing := NewNodeFunc("judge", func(_ context.Context, _ *state.RunState) (*state.Delta, error) {
		return nil, boom
	})
	g, _ := NewBuilder("t").
		AddNode(failing).
		SetEntry("judge").
		AddEdge("judge", End).
		Build()
	e, _ := New(g, WithEmitter(em))

	if err := e.Run(context.Background(), newRunState()); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want the node failure", err)
	}
	em.Close()
	c.Wait()

	errEvents := c.ByType(events.TypeError)
	if len(errEvents) != 1 {
		t.Fatalf("error events = %d, want 1", len(errEvents))
	}
	var ee events.ErrorEvent
	if err := json.Unmarshal(errEvents[0].Data, &ee); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ee.Code != "node_failed" || ee.Node != "judge" {
		t.Errorf("error event = %+v, want node_failed on judge", ee)
	}
	if strings.Contains(ee.Message, "sk-test") {
		t.Errorf("wire message leaks the failure detail: %q", ee.Message)
	}
	if ee.Message != "node execution failed" {
		t.Errorf("wire message = %q, want the generic text", ee.Message)
	}
}

func TestRunEmitsAgentStartOnlyOnChange(t *testing.T) {
	em := events.NewEmitter(nil)
	c := events.NewCollector(em)

	g, _ := NewBuilder("t").
		AddNode(historyNode("loop")).
		SetEntry("loop").
		AddConditionalEdge("loop", func(st *state.RunState) string {
			if len(st.History) >= 3 {
				return End
			}
			return "loop"
		}).
		Build()
	e, _ := New(g, WithEmitter(em))

	if err := e.Run(context.Background(), newRunState()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	em.Close()
	c.Wait()

	if got := len(c.ByType(events.TypeAgentStart)); got != 1 {
		t.Errorf("agent_start events = %d, want 1 (same agent revisited)", got)
	}
	if got := len(c.ByType(events.TypeAgentProgress)); got != 3 {
		t.Errorf("agent_progress events = %d, want 3", got)
	}
	if got := len(c.ByType(events.TypeStateUpdate)); got != 3 {
		t.Errorf("state_update events = %d, want 3", got)
	}
}

func TestNewRejectsNilGraph(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("New(nil) error = %v, want ErrEmptyGraph", err)
	}
}
