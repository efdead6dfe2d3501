package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(store *memStore, pipe Pipeline) *Scheduler {
	lease := NewLeaseManager(store, NewWorkerID(), DefaultLeaseTimeout)
	executor := NewExecutor(store, pipe, nil, testLogger())
	return NewScheduler(store, executor, lease, testLogger(), Options{
		PollInterval: time.Hour, // ticks driven manually in tests
	})
}

func TestRunDueTasksExecutesDueTask(t *testing.T) {
	store := newMemStore()
	pipe := &fakePipeline{}
	scheduler := newTestScheduler(store, pipe)

	store.put(intervalTask("due", "u1", 60))

	late := intervalTask("future", "u1", 60)
	future := time.Now().UTC().Add(time.Hour)
	late.NextRunAt = &future
	store.put(late)

	disabled := intervalTask("disabled", "u1", 60)
	disabled.Enabled = false
	store.put(disabled)

	scheduler.RunDueTasks(context.Background())

	assert.Equal(t, 1, pipe.calls)
	saved := store.get("due")
	require.NotNil(t, saved.LastRunStatus)
	assert.Equal(t, RunStatusQueued, *saved.LastRunStatus)
	assert.Nil(t, store.get("future").LastRunStatus)
	assert.Nil(t, store.get("disabled").LastRunStatus)
}

func TestRunDueTasksSkipsLeasedTask(t *testing.T) {
	store := newMemStore()
	pipe := &fakePipeline{}
	scheduler := newTestScheduler(store, pipe)

	task := intervalTask("t1", "u1", 60)
	lockedAt := time.Now().UTC().Add(-time.Minute)
	other := "scheduler-other"
	task.LockedAt = &lockedAt
	task.LockedBy = &other
	store.put(task)

	scheduler.RunDueTasks(context.Background())

	assert.Equal(t, 0, pipe.calls)
	saved := store.get("t1")
	assert.Equal(t, other, *saved.LockedBy)
}

func TestRunDueTasksReclaimsExpiredLease(t *testing.T) {
	store := newMemStore()
	pipe := &fakePipeline{}
	scheduler := newTestScheduler(store, pipe)

	task := intervalTask("t1", "u1", 60)
	lockedAt := time.Now().UTC().Add(-DefaultLeaseTimeout - time.Minute)
	dead := "scheduler-dead"
	task.LockedAt = &lockedAt
	task.LockedBy = &dead
	store.put(task)

	scheduler.RunDueTasks(context.Background())

	assert.Equal(t, 1, pipe.calls)
	saved := store.get("t1")
	assert.Nil(t, saved.LockedAt)
	assert.Nil(t, saved.LockedBy)
}

func TestRunDueTasksReleasesLeaseOnPersistFailure(t *testing.T) {
	store := newMemStore()
	scheduler := newTestScheduler(store, &fakePipeline{})

	store.put(intervalTask("t1", "u1", 60))
	store.failSaveRunResult = true

	scheduler.RunDueTasks(context.Background())

	saved := store.get("t1")
	assert.Nil(t, saved.LockedAt)
	assert.Nil(t, saved.LockedBy)
}

func TestRunTaskNowNotFound(t *testing.T) {
	store := newMemStore()
	scheduler := newTestScheduler(store, &fakePipeline{})

	_, err := scheduler.RunTaskNow(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	// Ownership scoping: another user's task is invisible.
	store.put(intervalTask("t1", "u1", 60))
	_, err = scheduler.RunTaskNow(context.Background(), "t1", "u2")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRunTaskNowLocked(t *testing.T) {
	store := newMemStore()
	pipe := &fakePipeline{}
	scheduler := newTestScheduler(store, pipe)

	task := intervalTask("t1", "u1", 60)
	lockedAt := time.Now().UTC().Add(-time.Minute)
	other := "scheduler-other"
	task.LockedAt = &lockedAt
	task.LockedBy = &other
	store.put(task)

	_, err := scheduler.RunTaskNow(context.Background(), "t1", "u1")
	assert.ErrorIs(t, err, ErrTaskLocked)
	assert.Equal(t, 0, pipe.calls)

	// The row is untouched by a rejected run.
	saved := store.get("t1")
	assert.Equal(t, other, *saved.LockedBy)
	assert.Nil(t, saved.LastRunStatus)
}

func TestRunTaskNowBypassesDueCheck(t *testing.T) {
	store := newMemStore()
	pipe := &fakePipeline{}
	scheduler := newTestScheduler(store, pipe)

	task := intervalTask("t1", "u1", 60)
	future := time.Now().UTC().Add(time.Hour)
	task.NextRunAt = &future
	store.put(task)

	outcome, err := scheduler.RunTaskNow(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, outcome.Status)
	assert.Equal(t, 1, pipe.calls)
}

func TestStartIsIdempotent(t *testing.T) {
	store := newMemStore()
	scheduler := newTestScheduler(store, &fakePipeline{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.True(t, scheduler.Start(ctx))
	assert.False(t, scheduler.Start(ctx))
	scheduler.Stop()

	// A stopped scheduler can be started again.
	assert.True(t, scheduler.Start(ctx))
	scheduler.Stop()
}

func TestReconcileTimezoneUpdatesCronTasksOnly(t *testing.T) {
	store := newMemStore()
	scheduler := newTestScheduler(store, &fakePipeline{})

	expr := "0 9 * * *"
	oldNext := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	cronTask := &ScheduledTask{
		ID:             "cron",
		UserID:         "u1",
		Name:           "daily digest",
		Enabled:        true,
		ScheduleType:   ScheduleCron,
		CronExpression: &expr,
		NextRunAt:      &oldNext,
	}
	store.put(cronTask)

	interval := intervalTask("interval", "u1", 600)
	intervalNext := *interval.NextRunAt
	store.put(interval)

	disabledCron := &ScheduledTask{
		ID:             "off",
		UserID:         "u1",
		Name:           "disabled digest",
		Enabled:        false,
		ScheduleType:   ScheduleCron,
		CronExpression: &expr,
	}
	store.put(disabledCron)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := scheduler.ReconcileTimezone(context.Background(), "u1", "America/New_York", now)
	require.NoError(t, err)

	saved := store.get("cron")
	require.NotNil(t, saved.NextRunAt)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), saved.NextRunAt.UTC())

	assert.Equal(t, intervalNext, *store.get("interval").NextRunAt)
	assert.Nil(t, store.get("off").NextRunAt)
}
