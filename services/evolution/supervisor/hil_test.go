// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEvolve/services/evolution/events"
	"github.com/AleutianAI/AleutianEvolve/services/inference"
)

type askResult struct {
	answer string
	err    error
}

func askInBackground(ctx context.Context, sup *Supervisor, timeout time.Duration) <-chan askResult {
	out := make(chan askResult, 1)
	go func() {
		answer, err := sup.AskHuman(ctx, "ArchitectScheduler", "Fold the leading branches?", "two candidates", timeout)
		out <- askResult{answer, err}
	}()
	return out
}

func pendingCount(sup *Supervisor) func() bool {
	return func() bool { return len(sup.PendingRequests()) == 1 }
}

func TestAskHumanTimeoutReturnsSentinel(t *testing.T) {
	sup, col, _ := newTestSupervisor(t, inference.NewScripted())

	answer, err := sup.AskHuman(context.Background(), "Judge", "Prune the weak branch?", "scores tied", 60*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TimeoutSentinel, answer)
	assert.Empty(t, sup.PendingRequests())

	sup.Close()
	col.Wait()

	asks := col.ByType(events.TypeHILRequired)
	require.Len(t, asks, 1)
	req := decodeEvent[events.HILRequest](t, asks[0])
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, "Judge", req.Agent)
	assert.Equal(t, "Prune the weak branch?", req.Question)
	assert.Equal(t, "scores tied", req.Context)
	assert.False(t, req.CreatedAt.IsZero())
}

func TestSubmitResponseResolvesQuestion(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, inference.NewScripted())
	defer sup.Close()

	got := askInBackground(context.Background(), sup, 5*time.Second)
	require.Eventually(t, pendingCount(sup), time.Second, 5*time.Millisecond)

	id := sup.PendingRequests()[0].RequestID
	require.NoError(t, sup.SubmitResponse(id, "Approved."))

	res := <-got
	require.NoError(t, res.err)
	assert.Equal(t, "Approved.", res.answer)
	assert.Empty(t, sup.PendingRequests())

	// First answer won; the id is gone.
	require.ErrorIs(t, sup.SubmitResponse(id, "again"), ErrUnknownRequest)
}

func TestSubmitResponseUnknownID(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, inference.NewScripted())
	defer sup.Close()

	require.ErrorIs(t, sup.SubmitResponse("no-such-request", "hello"), ErrUnknownRequest)
}

func TestCancelledRunKeepsQuestionPending(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, inference.NewScripted())
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := askInBackground(ctx, sup, 5*time.Second)
	require.Eventually(t, pendingCount(sup), time.Second, 5*time.Millisecond)
	id := sup.PendingRequests()[0].RequestID

	cancel()
	res := <-got
	require.ErrorIs(t, res.err, context.Canceled)

	// The question survives the run and stays answerable until its own
	// deadline.
	require.Len(t, sup.PendingRequests(), 1)
	require.NoError(t, sup.SubmitResponse(id, "noted for the record"))
	assert.Empty(t, sup.PendingRequests())
}

func TestAbandonedQuestionExpires(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, inference.NewScripted())
	defer sup.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := askInBackground(ctx, sup, 150*time.Millisecond)
	require.Eventually(t, pendingCount(sup), time.Second, 5*time.Millisecond)
	id := sup.PendingRequests()[0].RequestID

	cancel()
	<-got

	require.Eventually(t, func() bool { return len(sup.PendingRequests()) == 0 },
		2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, sup.SubmitResponse(id, "too late"), ErrUnknownRequest)
}

func TestAskHumanDefaultTimeoutListed(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, inference.NewScripted())
	defer sup.Close()

	got := askInBackground(context.Background(), sup, 0)
	require.Eventually(t, pendingCount(sup), time.Second, 5*time.Millisecond)

	req := sup.PendingRequests()[0]
	assert.Equal(t, int(defaultAskTimeout/time.Second), req.TimeoutSeconds)

	require.NoError(t, sup.SubmitResponse(req.RequestID, "done"))
	<-got
}
