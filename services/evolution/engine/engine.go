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
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
)

var (
	tracer = otel.Tracer("aleutian.evolution")
	meter  = otel.Meter("aleutian.evolution")
)

// defaultMaxNodeVisits bounds a run whose config never set a budget.
const defaultMaxNodeVisits = 100

// historyTailLen is how many history entries ride on each progress event.
const historyTailLen = 5

// Engine drives a graph over a run state until a router returns End.
//
// Description:
//
//	Engine owns the node boundary: it merges each node's delta, validates
//	the merged state, emits progress events, and enforces the per-run
//	visit budget. Nodes stay pure state transitions.
//
// Thread Safety:
//
//	Engine is safe for concurrent use. Each Run call owns its state; two
//	runs never share a RunState.
type Engine struct {
	graph   *Graph
	emitter *events.Emitter
	logger  *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce  sync.Once
	nodeLatency  metric.Float64Histogram
	nodeFailures metric.Int64Counter
	nodeVisits   metric.Int64Counter
	runLatency   metric.Float64Histogram
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter sets the event emitter progress events go to. Without one
// the engine runs silently.
func WithEmitter(em *events.Emitter) Option {
	return func(e *Engine) {
		e.emitter = em
	}
}

// WithLogger sets the logger. If nil, uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine for a built graph.
//
// Inputs:
//
//	graph - The graph to execute. Must not be nil.
//	opts - Configuration options.
//
// Outputs:
//
//	*Engine - The configured engine.
//	error - Non-nil if graph is nil.
func New(graph *Graph, opts ...Option) (*Engine, error) {
	if graph == nil {
		return nil, ErrEmptyGraph
	}
	e := &Engine{
		graph:  graph,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution.
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.nodeLatency, err = meter.Float64Histogram("evolve_node_duration_seconds",
			metric.WithDescription("Time spent in each graph node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodeFailures, err = meter.Int64Counter("evolve_node_failure_total",
			metric.WithDescription("Number of failed node visits"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		e.nodeVisits, err = meter.Int64Counter("evolve_node_visits_total",
			metric.WithDescription("Number of node visits"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_visits: "+err.Error())
		}

		e.runLatency, err = meter.Float64Histogram("evolve_run_duration_seconds",
			metric.WithDescription("Total run duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some engine metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes the graph over st until a router returns End.
//
// Description:
//
//	Visits nodes one at a time starting at the graph entry. After each
//	visit the node's delta is merged into st and st is re-validated; a
//	validation failure is a node failure. Context cancellation is checked
//	at every node boundary and surfaces as ctx.Err so callers can tell a
//	stop from a failure.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	st - The run state to evolve. Mutated in place. Must not be nil.
//
// Outputs:
//
//	error - Non-nil on failure, cancellation, or visit budget exhaustion.
func (e *Engine) Run(ctx context.Context, st *state.RunState) error {
	if ctx == nil {
		return ErrNilContext
	}
	if st == nil {
		return ErrNilState
	}

	e.initMetrics()

	ctx, span := tracer.Start(ctx, "evolution.Run",
		trace.WithAttributes(
			attribute.String("graph.name", e.graph.Name()),
			attribute.Int("graph.node_count", e.graph.NodeCount()),
		),
	)
	defer span.End()

	budget := st.Config.MaxNodeVisits
	if budget <= 0 {
		budget = defaultMaxNodeVisits
	}

	start := time.Now()
	e.logger.Info("run started",
		slog.String("graph", e.graph.Name()),
		slog.Int("visit_budget", budget),
	)

	current := e.graph.entry
	lastAgent := ""
	visits := 0

	for {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			return err
		}

		if current == End {
			if lastAgent != "" {
				e.publish(events.TypeAgentComplete, events.AgentComplete{
					Agent:   lastAgent,
					Message: lastAgent + " finished",
				})
			}
			break
		}

		node, ok := e.graph.nodes[current]
		if !ok {
			err := NewNodeError(current, visits, ErrNodeNotFound)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		visits++
		if visits > budget {
			err := NewNodeError(current, visits, ErrRuntimeExhausted)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.publish(events.TypeError, events.ErrorEvent{
				Node:    current,
				Code:    "runtime_exhausted",
				Message: fmt.Sprintf("visit budget of %d exhausted", budget),
			})
			e.logger.Error("visit budget exhausted",
				slog.String("node", current),
				slog.Int("budget", budget),
			)
			return err
		}

		if current != lastAgent {
			e.publish(events.TypeAgentStart, events.AgentStart{
				Agent:   current,
				Message: current + " started",
			})
			lastAgent = current
		}

		delta, err := e.runNode(ctx, node, st, visits)
		if err != nil {
			// runNode already logged the failure detail; the wire gets
			// only the generic message.
			e.publish(events.TypeError, events.ErrorEvent{
				Node:    current,
				Code:    "node_failed",
				Message: "node execution failed",
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return NewNodeError(current, visits, err)
		}

		st.Apply(delta)
		if err := st.Validate(); err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrStateRejected, err)
			e.publish(events.TypeError, events.ErrorEvent{
				Node:    current,
				Code:    "node_failed",
				Message: "merged state failed validation",
			})
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
			e.logger.Error("state rejected after merge",
				slog.String("node", current),
				slog.String("error", err.Error()),
			)
			return NewNodeError(current, visits, wrapped)
		}

		e.publish(events.TypeStateUpdate, snapshot(current, delta, st))
		e.publish(events.TypeAgentProgress, progressEvent(current, st))

		next, ok := e.graph.next(current, st)
		if !ok {
			err := NewNodeError(current, visits, ErrNoRoute)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if next != End {
			if _, ok := e.graph.nodes[next]; !ok {
				err := NewNodeError(next, visits, ErrNodeNotFound)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
		}
		current = next
	}

	duration := time.Since(start)
	if e.runLatency != nil {
		e.runLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("graph", e.graph.Name())),
		)
	}
	span.SetStatus(codes.Ok, "")
	e.logger.Info("run completed",
		slog.String("graph", e.graph.Name()),
		slog.Duration("duration", duration),
		slog.Int("visits", visits),
		slog.Int("iterations", st.IterationCount),
	)
	return nil
}

// runNode executes a single node with observability and panic recovery.
func (e *Engine) runNode(ctx context.Context, node Node, st *state.RunState, visit int) (delta *state.Delta, err error) {
	ctx, span := tracer.Start(ctx, node.Name(),
		trace.WithAttributes(
			attribute.String("evolution.node", node.Name()),
			attribute.Int("evolution.visit", visit),
			attribute.Int("evolution.iteration", st.IterationCount),
		),
	)
	defer span.End()

	if e.nodeVisits != nil {
		e.nodeVisits.Add(ctx, 1,
			metric.WithAttributes(attribute.String("node", node.Name())),
		)
	}

	e.logger.Debug("node starting",
		slog.String("node", node.Name()),
		slog.Int("visit", visit),
	)

	start := time.Now()
	defer func() {
		duration := time.Since(start)
		if e.nodeLatency != nil {
			e.nodeLatency.Record(ctx, duration.Seconds(),
				metric.WithAttributes(attribute.String("node", node.Name())),
			)
		}

		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.logger.Error("node panicked",
				slog.String("node", node.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}

		if err != nil {
			if e.nodeFailures != nil {
				e.nodeFailures.Add(ctx, 1,
					metric.WithAttributes(attribute.String("node", node.Name())),
				)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("node failed",
				slog.String("node", node.Name()),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
			return
		}

		span.SetStatus(codes.Ok, "")
		e.logger.Info("node completed",
			slog.String("node", node.Name()),
			slog.Duration("duration", duration),
		)
	}()

	return node.Run(ctx, st)
}

// publish sends an event if an emitter is attached.
func (e *Engine) publish(t events.Type, data any) {
	if e.emitter != nil {
		e.emitter.Publish(t, data)
	}
}

// snapshot builds the state_update payload: the node's delta plus summary
// counters derived from the merged state. The emitter marshals the payload
// before Run moves on, so handing it the live delta is safe.
func snapshot(node string, delta *state.Delta, st *state.RunState) events.StateUpdate {
	counts := make(map[string]int)
	for i := range st.Strategies {
		counts[string(st.Strategies[i].Status)]++
	}
	return events.StateUpdate{
		Node:                  node,
		IterationCount:        st.IterationCount,
		ResearchIteration:     st.ResearchIteration,
		ReportVersion:         st.ReportVersion,
		SpatialEntropy:        st.SpatialEntropy,
		EffectiveTemperature:  st.EffectiveTemperature,
		NormalizedTemperature: st.NormalizedTemperature,
		StrategyCounts:        counts,
		PendingDecisions:      len(st.ArchitectDecisions),
		Delta:                 delta,
	}
}

// progressEvent builds the agent_progress payload after a visit merges.
func progressEvent(node string, st *state.RunState) events.AgentProgress {
	msg := node + " completed"
	if tail := st.HistoryTail(1); len(tail) == 1 {
		msg = tail[0]
	}
	return events.AgentProgress{
		Agent:   node,
		Message: msg,
		Detail:  strings.Join(st.HistoryTail(historyTailLen), "\n"),
	}
}
