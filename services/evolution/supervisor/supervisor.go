// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor owns the lifecycle of evolution runs: at most one run
// is active at a time, its events flow through a shared emitter, and every
// finished run is handed to the archive. The supervisor is also the human
// side of the graph: it answers nodes.Asker questions by broadcasting them
// to connected operators and routes operator commands back into the run.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/archive"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/engine"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/nodes"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

var (
	// ErrRunInProgress rejects Start while a run is active.
	ErrRunInProgress = errors.New("supervisor: a run is already in progress")

	// ErrNoActiveRun rejects operations that need a running graph.
	ErrNoActiveRun = errors.New("supervisor: no active run")

	// ErrUnknownRequest rejects responses to expired or invented questions.
	ErrUnknownRequest = errors.New("supervisor: unknown request id")
)

// archiveWriteTimeout bounds the post-run archive write so a stuck disk
// cannot hold the run slot hostage.
const archiveWriteTimeout = 10 * time.Second

// Run statuses as persisted to the archive. The event stream only ever
// carries started, stopped, and completed; the archive also distinguishes
// failures.
const (
	RunCompleted = "completed"
	RunStopped   = "stopped"
	RunFailed    = "failed"
)

// Archiver is where finished runs go. archive.Store satisfies it; tests
// substitute their own.
type Archiver interface {
	Put(ctx context.Context, rec archive.Record) error
}

// Config wires a Supervisor.
type Config struct {
	// Inference executes every model call the graph makes. Required.
	Inference inference.Service

	// KB receives judge observations and synthesis branch archives.
	KB nodes.KnowledgeBase

	// Archive receives the record of every finished run.
	Archive Archiver

	// Emitter carries the event stream. One is created when nil.
	Emitter *events.Emitter

	// SynthesisReviewTimeout is how long the scheduler waits for a human
	// veto before model-initiated synthesis proceeds. Zero disables the
	// review gate entirely.
	SynthesisReviewTimeout time.Duration

	Logger *slog.Logger
}

// Supervisor runs at most one evolution graph at a time.
type Supervisor struct {
	inference     inference.Service
	kb            nodes.KnowledgeBase
	archiver      Archiver
	emitter       *events.Emitter
	logger        *slog.Logger
	reviewTimeout time.Duration

	hil        *hilRegistry
	directives *directiveQueue

	mu     sync.Mutex
	active *run
}

// run is the supervisor's handle on one graph execution. The state inside
// is owned by the run goroutine until done closes.
type run struct {
	id        string
	problem   string
	state     *state.RunState
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// New builds a Supervisor. Only the inference service is mandatory.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Inference == nil {
		return nil, errors.New("supervisor: an inference service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	em := cfg.Emitter
	if em == nil {
		em = events.NewEmitter(logger)
	}
	return &Supervisor{
		inference:     cfg.Inference,
		kb:            cfg.KB,
		archiver:      cfg.Archive,
		emitter:       em,
		logger:        logger,
		reviewTimeout: cfg.SynthesisReviewTimeout,
		hil:           newHILRegistry(),
		directives:    newDirectiveQueue(),
	}, nil
}

// Events exposes the emitter so servers and recorders can subscribe.
func (s *Supervisor) Events() *events.Emitter { return s.emitter }

// Start launches a run for the given problem and returns its id. Exactly
// one run may be active; a second Start reports ErrRunInProgress. The
// status event goes out before Start returns, so the replay buffer always
// opens with it.
func (s *Supervisor) Start(problem string, cfg state.Config) (string, error) {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return "", errors.New("supervisor: problem must not be empty")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("supervisor: run config rejected: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return "", ErrRunInProgress
	}

	graph, err := nodes.BuildGraph(nodes.Deps{
		Inference:              s.inference,
		KB:                     s.kb,
		Directives:             s.directives,
		Asker:                  s,
		SynthesisReviewTimeout: s.reviewTimeout,
		Logger:                 s.logger,
	})
	if err != nil {
		return "", err
	}
	eng, err := engine.New(graph, engine.WithEmitter(s.emitter), engine.WithLogger(s.logger))
	if err != nil {
		return "", err
	}

	// Commands queued for a previous run do not leak into this one.
	s.directives.reset()

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        uuid.NewString(),
		problem:   problem,
		state:     state.New(problem, cfg),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now().UTC(),
	}
	s.active = r

	s.logger.Info("run starting", "run_id", r.id)
	s.emitter.Publish(events.TypeStatus, events.StatusChange{RunID: r.id, Status: events.StatusStarted})
	go s.drive(ctx, eng, r)
	return r.id, nil
}

// Stop cancels the active run and blocks until its terminal events are
// published and the record is archived. Stopping is not an error.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return ErrNoActiveRun
	}
	r.cancel()
	<-r.done
	return nil
}

// Status describes the supervisor at a point in time.
type Status struct {
	Running     bool      `json:"running"`
	RunID       string    `json:"run_id,omitempty"`
	Problem     string    `json:"problem,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	PendingHIL  int       `json:"pending_hil"`
	Subscribers int       `json:"subscribers"`
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()

	st := Status{
		PendingHIL:  len(s.hil.list()),
		Subscribers: s.emitter.SubscriberCount(),
	}
	if r != nil {
		st.Running = true
		st.RunID = r.id
		st.Problem = r.problem
		st.StartedAt = r.startedAt
	}
	return st
}

// Close stops any active run and shuts the event stream down.
func (s *Supervisor) Close() {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNoActiveRun) {
		s.logger.Warn("stop on close failed", "error", err)
	}
	s.emitter.Close()
}

func (s *Supervisor) drive(ctx context.Context, eng *engine.Engine, r *run) {
	defer close(r.done)
	s.finish(r, eng.Run(ctx, r.state))
}

// finish publishes the terminal events, archives the run, and frees the
// run slot. It runs on the run goroutine after Run returned, so the state
// is quiescent and safe to read.
func (s *Supervisor) finish(r *run, runErr error) {
	status := events.StatusCompleted
	archived := RunCompleted
	switch {
	case runErr == nil:
		if r.state.FinalReport != "" {
			s.emitter.Publish(events.TypeFinalReport, events.FinalReport{
				Report:  r.state.FinalReport,
				Version: r.state.ReportVersion,
			})
		}
		s.logger.Info("run completed", "run_id", r.id, "iterations", r.state.IterationCount)
	case errors.Is(runErr, context.Canceled):
		status = events.StatusStopped
		archived = RunStopped
		s.logger.Info("run stopped", "run_id", r.id, "iterations", r.state.IterationCount)
	default:
		// The engine already published the node error event; the stream
		// just needs a terminal status.
		status = events.StatusStopped
		archived = RunFailed
		s.logger.Error("run failed", "run_id", r.id, "error", runErr)
	}
	s.emitter.Publish(events.TypeStatus, events.StatusChange{RunID: r.id, Status: status})
	s.archiveRun(r, archived)

	s.mu.Lock()
	if s.active == r {
		s.active = nil
	}
	s.mu.Unlock()
}

// archiveRun persists the final record. Archive trouble is logged and
// swallowed: the run itself already succeeded or failed on its own terms.
func (s *Supervisor) archiveRun(r *run, status string) {
	if s.archiver == nil {
		return
	}
	stateJSON, err := json.Marshal(r.state)
	if err != nil {
		s.logger.Warn("run state not serializable", "run_id", r.id, "error", err)
		stateJSON = nil
	}
	rec := archive.Record{
		RunID:         r.id,
		Problem:       r.problem,
		Status:        status,
		FinalReport:   r.state.FinalReport,
		ReportVersion: r.state.ReportVersion,
		Iterations:    r.state.IterationCount,
		State:         stateJSON,
		StartedAt:     r.startedAt,
		EndedAt:       time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if err := s.archiver.Put(ctx, rec); err != nil {
		s.logger.Warn("run archive write failed", "run_id", r.id, "error", err)
	}
}
