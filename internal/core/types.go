package core

import (
	"encoding/json"
	"time"
)

// ScheduleType selects how a task's next execution time is derived.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
)

// RunStatus describes the outcome recorded for a task's most recent run.
type RunStatus string

const (
	RunStatusQueued RunStatus = "queued"
	RunStatusError  RunStatus = "error"
)

// RunTrigger records what caused an execution.
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
)

// ScheduledTask is a persisted recurring or one-shot job owned by a user.
// The payload is opaque to the scheduler; it is handed to the generation
// pipeline unchanged.
type ScheduledTask struct {
	ID          string
	UserID      string
	Name        string
	Description *string
	Enabled     bool

	ScheduleType    ScheduleType
	CronExpression  *string
	IntervalSeconds *int
	RunAt           *time.Time

	Payload json.RawMessage

	NextRunAt     *time.Time
	LastRunAt     *time.Time
	LastRunStatus *RunStatus
	LastRunError  *string

	LockedAt *time.Time
	LockedBy *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Spec extracts the schedule definition used by ComputeNextRunAt.
func (t *ScheduledTask) Spec() ScheduleSpec {
	return ScheduleSpec{
		Type:            t.ScheduleType,
		CronExpression:  t.CronExpression,
		IntervalSeconds: t.IntervalSeconds,
		RunAt:           t.RunAt,
	}
}

// TaskRun captures a single execution attempt of a task.
type TaskRun struct {
	ID         string
	TaskID     string
	Trigger    RunTrigger
	Status     RunStatus
	Error      *string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome is what an execution produced, returned to the caller for
// logging or an interactive response.
type Outcome struct {
	Status RunStatus
	Error  string
	Result json.RawMessage
}

// RunResult is the full post-execution state written back to a task row in
// a single update, lease clear included, so a concurrent reader never sees
// a released lease next to a stale status.
type RunResult struct {
	TaskID        string
	LastRunAt     time.Time
	LastRunStatus RunStatus
	LastRunError  *string
	NextRunAt     *time.Time
	Enabled       bool
}

// UserSettings holds the per-user preferences the scheduler consults.
type UserSettings struct {
	UserID    string
	Timezone  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
