// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/archive"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/nodes"
	"github.com/AleutianAI/AleutianEvolve/services/evolution/state"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

var (
	_ Archiver             = (*archive.Store)(nil)
	_ nodes.Asker          = (*Supervisor)(nil)
	_ nodes.DirectiveQueue = (*directiveQueue)(nil)
)

// memArchiver records Put calls in memory.
type memArchiver struct {
	mu   sync.Mutex
	recs []archive.Record
}

func (a *memArchiver) Put(_ context.Context, rec archive.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *memArchiver) records() []archive.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archive.Record(nil), a.recs...)
}

// blockingService parks every call until the run context is cancelled.
type blockingService struct{}

func (b *blockingService) GenerateJSON(ctx context.Context, _ inference.Request) (*inference.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingService) Embed(ctx context.Context, _ string) ([]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestSupervisor(t *testing.T, backend inference.Service) (*Supervisor, *events.Collector, *memArchiver) {
	t.Helper()
	arch := &memArchiver{}
	sup, err := New(Config{Inference: backend, Archive: arch})
	require.NoError(t, err)
	return sup, events.NewCollector(sup.Events()), arch
}

func decodeEvent[T any](t *testing.T, ev events.Event) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ev.Data, &out))
	return out
}

func waitIdle(t *testing.T, sup *Supervisor) {
	t.Helper()
	require.Eventually(t, func() bool { return !sup.Status().Running },
		5*time.Second, 10*time.Millisecond)
}

func TestNewRequiresInference(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestStartRejectsEmptyProblem(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, inference.NewScripted())
	defer sup.Close()

	_, err := sup.Start("   ", state.DefaultConfig())
	require.Error(t, err)
	assert.False(t, sup.Status().Running)
}

func TestRunToCompletion(t *testing.T) {
	// One full iteration: decompose, research, distill, generate two
	// strategies, judge, then converge on the iteration budget.
	backend := inference.NewScripted(
		`{"subtasks": ["size the market"], "information_needs": []}`,
		`{"research_context": "Demand clusters in two segments.", "information_status": "sufficient"}`,
		"Two demand segments dominate.",
		`{"strategies": [
			{"strategy_name": "Segment one first", "rationale": "r1", "initial_assumption": "a1"},
			{"strategy_name": "Segment two first", "rationale": "r2", "initial_assumption": "a2"}
		]}`,
		`{"scores": {"no-such-id": 0.9}}`,
	)
	sup, col, arch := newTestSupervisor(t, backend)

	cfg := state.DefaultConfig()
	cfg.MaxIterations = 1
	id, err := sup.Start("enter the market", cfg)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	waitIdle(t, sup)
	sup.Close()
	col.Wait()

	statuses := col.ByType(events.TypeStatus)
	require.Len(t, statuses, 2)
	first := decodeEvent[events.StatusChange](t, statuses[0])
	assert.Equal(t, id, first.RunID)
	assert.Equal(t, events.StatusStarted, first.Status)
	last := decodeEvent[events.StatusChange](t, statuses[1])
	assert.Equal(t, id, last.RunID)
	assert.Equal(t, events.StatusCompleted, last.Status)

	assert.NotEmpty(t, col.ByType(events.TypeAgentStart))
	assert.NotEmpty(t, col.ByType(events.TypeStateUpdate))
	assert.Empty(t, col.ByType(events.TypeError))

	recs := arch.records()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, id, rec.RunID)
	assert.Equal(t, "enter the market", rec.Problem)
	assert.Equal(t, RunCompleted, rec.Status)
	assert.Equal(t, 1, rec.Iterations)
	assert.True(t, json.Valid(rec.State))
	assert.False(t, rec.EndedAt.Before(rec.StartedAt))
}

func TestSecondStartRejected(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, &blockingService{})
	defer sup.Close()

	_, err := sup.Start("first", state.DefaultConfig())
	require.NoError(t, err)

	_, err = sup.Start("second", state.DefaultConfig())
	require.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, sup.Stop())

	// The slot is free again once the first run is down.
	_, err = sup.Start("third", state.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, sup.Stop())
}

func TestStopCancelsActiveRun(t *testing.T) {
	sup, col, arch := newTestSupervisor(t, &blockingService{})

	id, err := sup.Start("halt me", state.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, sup.Stop())
	assert.False(t, sup.Status().Running)

	sup.Close()
	col.Wait()

	statuses := col.ByType(events.TypeStatus)
	require.Len(t, statuses, 2)
	last := decodeEvent[events.StatusChange](t, statuses[1])
	assert.Equal(t, id, last.RunID)
	assert.Equal(t, events.StatusStopped, last.Status)

	recs := arch.records()
	require.Len(t, recs, 1)
	assert.Equal(t, RunStopped, recs[0].Status)
}

func TestStopWithoutRun(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, inference.NewScripted())
	defer sup.Close()

	require.ErrorIs(t, sup.Stop(), ErrNoActiveRun)
}

func TestFailedRunArchivesFailure(t *testing.T) {
	// An exhausted backend fails the first node visit.
	sup, col, arch := newTestSupervisor(t, inference.NewScripted())

	id, err := sup.Start("doomed", state.DefaultConfig())
	require.NoError(t, err)

	waitIdle(t, sup)
	sup.Close()
	col.Wait()

	errs := col.ByType(events.TypeError)
	require.NotEmpty(t, errs)
	ee := decodeEvent[events.ErrorEvent](t, errs[0])
	assert.Equal(t, "node_failed", ee.Code)

	statuses := col.ByType(events.TypeStatus)
	require.Len(t, statuses, 2)
	last := decodeEvent[events.StatusChange](t, statuses[1])
	assert.Equal(t, id, last.RunID)
	assert.Equal(t, events.StatusStopped, last.Status)

	recs := arch.records()
	require.Len(t, recs, 1)
	assert.Equal(t, RunFailed, recs[0].Status)
}

func TestFinishPublishesFinalReport(t *testing.T) {
	sup, col, arch := newTestSupervisor(t, inference.NewScripted())

	st := state.New("p", state.DefaultConfig())
	st.FinalReport = "Go with segment one."
	st.ReportVersion = 2
	st.IterationCount = 3
	r := &run{
		id:        "run-1",
		problem:   "p",
		state:     st,
		done:      make(chan struct{}),
		startedAt: time.Now().UTC(),
	}
	sup.finish(r, nil)

	sup.Close()
	col.Wait()

	reports := col.ByType(events.TypeFinalReport)
	require.Len(t, reports, 1)
	fr := decodeEvent[events.FinalReport](t, reports[0])
	assert.Equal(t, "Go with segment one.", fr.Report)
	assert.Equal(t, 2, fr.Version)

	statuses := col.ByType(events.TypeStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, events.StatusCompleted, decodeEvent[events.StatusChange](t, statuses[0]).Status)
	// The report precedes the terminal status on the stream.
	assert.Less(t, reports[0].Seq, statuses[0].Seq)

	recs := arch.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Go with segment one.", recs[0].FinalReport)
	assert.Equal(t, 2, recs[0].ReportVersion)
	assert.Equal(t, 3, recs[0].Iterations)
}

func TestForceSynthesize(t *testing.T) {
	sup, col, _ := newTestSupervisor(t, &blockingService{})

	require.ErrorIs(t, sup.ForceSynthesize([]string{"s-1"}, "m"), ErrNoActiveRun)

	_, err := sup.Start("p", state.DefaultConfig())
	require.NoError(t, err)

	require.Error(t, sup.ForceSynthesize(nil, "no targets"))

	require.NoError(t, sup.ForceSynthesize([]string{"s-1", "s-2"}, "  fold the twins  "))

	drained := sup.directives.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, []string{"s-1", "s-2"}, drained[0].StrategyIDs)
	assert.Equal(t, "fold the twins", drained[0].Message)
	assert.Empty(t, sup.directives.Drain())

	require.NoError(t, sup.Stop())
	sup.Close()
	col.Wait()

	forced := col.ByType(events.TypeForceSynthesize)
	require.Len(t, forced, 1)
	fs := decodeEvent[events.ForceSynthesize](t, forced[0])
	assert.Equal(t, []string{"s-1", "s-2"}, fs.StrategyIDs)
	assert.Equal(t, "fold the twins", fs.Message)
}

func TestStatusReportsActiveRun(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, &blockingService{})
	defer sup.Close()

	st := sup.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.RunID)

	id, err := sup.Start("status check", state.DefaultConfig())
	require.NoError(t, err)

	st = sup.Status()
	assert.True(t, st.Running)
	assert.Equal(t, id, st.RunID)
	assert.Equal(t, "status check", st.Problem)
	assert.False(t, st.StartedAt.IsZero())

	require.NoError(t, sup.Stop())
	assert.False(t, sup.Status().Running)
}
