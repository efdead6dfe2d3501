package core

import (
	"context"
	"encoding/json"
	"time"
)

// Store abstracts the persistence layer used by the scheduler and executor.
// Lease operations must be implemented as atomic conditional updates on the
// task row; that is the only cross-process coordination primitive.
type Store interface {
	// Task operations
	GetTask(ctx context.Context, id string) (*ScheduledTask, error)
	GetUserTask(ctx context.Context, id, userID string) (*ScheduledTask, error)
	DueTasks(ctx context.Context, now time.Time, leaseTimeout time.Duration, limit int) ([]*ScheduledTask, error)
	EnabledCronTasks(ctx context.Context, userID string) ([]*ScheduledTask, error)
	UpdateTaskNextRun(ctx context.Context, id string, nextRunAt *time.Time) error

	// Lease operations
	AcquireLease(ctx context.Context, taskID, workerID string, now time.Time, leaseTimeout time.Duration, force bool) (*ScheduledTask, error)
	ReleaseLease(ctx context.Context, taskID string, now time.Time) error

	// Execution bookkeeping
	SaveRunResult(ctx context.Context, result *RunResult) error
	InsertRun(ctx context.Context, run *TaskRun) error
	PruneOldRuns(ctx context.Context, taskID string) error

	// User settings
	GetUserTimezone(ctx context.Context, userID string) (string, error)
}

// Pipeline is the external generation operation a task invokes. The
// scheduler is agnostic to its internals; it only needs the call to be
// idempotent enough that a lease-timeout-induced double invocation is
// acceptable.
type Pipeline interface {
	Invoke(ctx context.Context, payload json.RawMessage, userID string, startTime time.Time) (json.RawMessage, error)
}

// LeaseManager grants time-bounded exclusive claims on task rows so only one
// worker executes a given due task at a time. Expired leases may be taken
// over by any worker; a slow-but-alive worker past the timeout can therefore
// overlap with its successor.
type LeaseManager struct {
	store    Store
	workerID string
	timeout  time.Duration
}

// NewLeaseManager creates a lease manager identified by workerID.
func NewLeaseManager(store Store, workerID string, timeout time.Duration) *LeaseManager {
	return &LeaseManager{
		store:    store,
		workerID: workerID,
		timeout:  timeout,
	}
}

// WorkerID returns the lease-holder token of this manager.
func (m *LeaseManager) WorkerID() string {
	return m.workerID
}

// Acquire claims the task via a single conditional update. Without force the
// task must still be enabled and due; force (on-demand runs) skips that
// predicate but still refuses to steal an unexpired lease. Returns
// ErrLeaseHeld when the update matched no row.
func (m *LeaseManager) Acquire(ctx context.Context, task *ScheduledTask, now time.Time, force bool) (*ScheduledTask, error) {
	return m.store.AcquireLease(ctx, task.ID, m.workerID, now, m.timeout, force)
}

// Release clears the lease fields unconditionally. Safe to call on a task
// that holds no lease.
func (m *LeaseManager) Release(ctx context.Context, taskID string, now time.Time) error {
	return m.store.ReleaseLease(ctx, taskID, now)
}
