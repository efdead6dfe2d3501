package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nanosched/internal/notify"
)

const invalidScheduleMessage = "Invalid schedule configuration"

// Executor runs a task's payload through the generation pipeline and writes
// the resulting scheduling state back to the task row.
type Executor struct {
	store    Store
	pipeline Pipeline
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewExecutor creates an executor. notifier may be nil for no notifications.
func NewExecutor(store Store, pipeline Pipeline, notifier notify.Notifier, logger *slog.Logger) *Executor {
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	return &Executor{
		store:    store,
		pipeline: pipeline,
		notifier: notifier,
		logger:   logger,
	}
}

// Execute runs the task once and persists the result. Pipeline failures are
// captured in the outcome and never returned as errors; the returned error
// only signals that persisting the result failed, in which case the caller
// must release the lease itself.
//
// once schedules are disabled after any execution. Recurring schedules get
// their next run recomputed from now in the owner's timezone; when that
// yields nothing the task is disabled with a configuration error, even if
// the execution itself succeeded.
func (e *Executor) Execute(ctx context.Context, task *ScheduledTask, now time.Time, trigger RunTrigger) (Outcome, error) {
	status := RunStatusQueued
	var errMessage *string
	var result json.RawMessage

	if err := validatePayload(task.Payload); err != nil {
		status = RunStatusError
		errMessage = ptr(err.Error())
	} else {
		res, err := e.pipeline.Invoke(ctx, task.Payload, task.UserID, now)
		if err != nil {
			status = RunStatusError
			errMessage = ptr(err.Error())
		} else {
			result = res
		}
	}

	timezone, err := e.store.GetUserTimezone(ctx, task.UserID)
	if err != nil {
		e.logger.Warn("resolve user timezone", "task_id", task.ID, "user_id", task.UserID, "err", err)
		timezone = "UTC"
	}

	nextRunAt := task.NextRunAt
	enabled := task.Enabled

	if task.ScheduleType == ScheduleOnce {
		enabled = false
		nextRunAt = nil
	} else if task.Enabled {
		nextRunAt = ComputeNextRunAt(task.Spec(), now, timezone)
		if nextRunAt == nil {
			enabled = false
			status = RunStatusError
			if errMessage == nil {
				errMessage = ptr(invalidScheduleMessage)
			}
		}
	}

	if err := e.store.SaveRunResult(ctx, &RunResult{
		TaskID:        task.ID,
		LastRunAt:     now,
		LastRunStatus: status,
		LastRunError:  errMessage,
		NextRunAt:     nextRunAt,
		Enabled:       enabled,
	}); err != nil {
		return Outcome{}, fmt.Errorf("save run result: %w", err)
	}

	e.recordRun(ctx, task, trigger, status, errMessage, now)

	if status == RunStatusError {
		e.notifyFailure(ctx, task, errMessage)
	}

	outcome := Outcome{Status: status, Result: result}
	if errMessage != nil {
		outcome.Error = *errMessage
	}
	return outcome, nil
}

func (e *Executor) recordRun(ctx context.Context, task *ScheduledTask, trigger RunTrigger, status RunStatus, errMessage *string, startedAt time.Time) {
	run := &TaskRun{
		ID:         NewID(),
		TaskID:     task.ID,
		Trigger:    trigger,
		Status:     status,
		Error:      errMessage,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	if err := e.store.InsertRun(ctx, run); err != nil {
		e.logger.Warn("record task run", "task_id", task.ID, "err", err)
		return
	}
	if err := e.store.PruneOldRuns(ctx, task.ID); err != nil {
		e.logger.Warn("prune task runs", "task_id", task.ID, "err", err)
	}
}

func (e *Executor) notifyFailure(ctx context.Context, task *ScheduledTask, errMessage *string) {
	body := "run failed"
	if errMessage != nil {
		body = *errMessage
	}
	if err := e.notifier.Send(ctx, fmt.Sprintf("Task %q failed", task.Name), body); err != nil {
		e.logger.Warn("send failure notification", "task_id", task.ID, "err", err)
	}
}

func validatePayload(payload json.RawMessage) error {
	if len(payload) == 0 {
		return errors.New("task payload is missing or invalid")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return errors.New("task payload is missing or invalid")
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
