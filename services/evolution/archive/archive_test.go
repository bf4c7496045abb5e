// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package archive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(runID string, startedAt time.Time) Record {
	return Record{
		RunID:         runID,
		Problem:       "optimize the packing line",
		Status:        "completed",
		FinalReport:   "use two lanes",
		ReportVersion: 1,
		Iterations:    4,
		State:         json.RawMessage(`{"iteration_count":4}`),
		StartedAt:     startedAt,
		EndedAt:       startedAt.Add(time.Minute),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	want := testRecord("run-1", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, store.Put(ctx, want))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.Problem, got.Problem)
	assert.Equal(t, want.FinalReport, got.FinalReport)
	assert.Equal(t, want.Iterations, got.Iterations)
	assert.JSONEq(t, string(want.State), string(got.State))
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
}

func TestGetMissingRunReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "never-ran")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRequiresRunID(t *testing.T) {
	store := openTestStore(t)

	err := store.Put(context.Background(), Record{Status: "completed"})
	require.Error(t, err)
}

func TestPutOverwritesSameRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC()
	first := testRecord("run-1", started)
	first.Status = "stopped"
	require.NoError(t, store.Put(ctx, first))

	second := testRecord("run-1", started)
	second.Status = "completed"
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)

	records, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := testRecord(string(rune('a'+i))+"-run", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Put(ctx, rec))
	}

	records, err := store.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "e-run", records[0].RunID)
	assert.Equal(t, "d-run", records[1].RunID)
	assert.Equal(t, "c-run", records[2].RunID)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "a-run", all[4].RunID)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	store, err := Open(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, testRecord("run-1", time.Now().UTC())))
	require.NoError(t, store.Close())

	store2, err := Open(cfg)
	require.NoError(t, err)
	defer store2.Close()

	got, err := store2.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "use two lanes", got.FinalReport)
}

func TestPutDefaultsTimestamps(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Record{RunID: "run-1", Status: "failed"}))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, got.StartedAt.IsZero())
	assert.False(t, got.EndedAt.IsZero())
}
