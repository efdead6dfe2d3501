package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nanosched/internal/core"
)

func insertRunAt(t *testing.T, s *Store, taskID string, n int, startedAt time.Time) {
	t.Helper()
	require.NoError(t, s.InsertRun(context.Background(), &core.TaskRun{
		ID:         fmt.Sprintf("run-%d", n),
		TaskID:     taskID,
		Trigger:    core.TriggerSchedule,
		Status:     core.RunStatusQueued,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Second),
	}))
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	seedTask(t, s, "t1", "u1", nil)
	for i := 0; i < 5; i++ {
		insertRunAt(t, s, "t1", i, base.Add(time.Duration(i)*time.Minute))
	}

	runs, err := s.ListRuns(ctx, "t1", 3, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-3", runs[1].ID)
	assert.Equal(t, "run-2", runs[2].ID)

	page, err := s.ListRuns(ctx, "t1", 3, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "run-1", page[0].ID)
	assert.Equal(t, "run-0", page[1].ID)
}

func TestPruneOldRunsKeepsMostRecent(t *testing.T) {
	s := openTestStore(t) // retention 3
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	seedTask(t, s, "t1", "u1", nil)
	for i := 0; i < 5; i++ {
		insertRunAt(t, s, "t1", i, base.Add(time.Duration(i)*time.Minute))
	}

	require.NoError(t, s.PruneOldRuns(ctx, "t1"))

	runs, err := s.ListRuns(ctx, "t1", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-2", runs[2].ID)
}

func TestPruneOldRunsScopedToTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)

	seedTask(t, s, "t1", "u1", nil)
	seedTask(t, s, "t2", "u1", nil)
	for i := 0; i < 5; i++ {
		insertRunAt(t, s, "t1", i, base.Add(time.Duration(i)*time.Minute))
	}
	require.NoError(t, s.InsertRun(ctx, &core.TaskRun{
		ID:         "other",
		TaskID:     "t2",
		Trigger:    core.TriggerManual,
		Status:     core.RunStatusQueued,
		StartedAt:  base,
		FinishedAt: base,
	}))

	require.NoError(t, s.PruneOldRuns(ctx, "t1"))

	other, err := s.ListRuns(ctx, "t2", 10, 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestInsertRunStoresError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seedTask(t, s, "t1", "u1", nil)
	msg := "pipeline unreachable"
	require.NoError(t, s.InsertRun(ctx, &core.TaskRun{
		ID:         "run-err",
		TaskID:     "t1",
		Trigger:    core.TriggerManual,
		Status:     core.RunStatusError,
		Error:      &msg,
		StartedAt:  now,
		FinishedAt: now,
	}))

	runs, err := s.ListRuns(ctx, "t1", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, core.RunStatusError, runs[0].Status)
	assert.Equal(t, core.TriggerManual, runs[0].Trigger)
	require.NotNil(t, runs[0].Error)
	assert.Equal(t, msg, *runs[0].Error)
}
