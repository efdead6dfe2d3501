package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is the tick cadence of the due-task poller.
	DefaultPollInterval = 60 * time.Second

	// DefaultLeaseTimeout bounds how long a crashed or hung worker can
	// block a task before another worker may reclaim it.
	DefaultLeaseTimeout = 5 * time.Minute

	// DefaultMaxTasksPerTick bounds how many due tasks one tick claims.
	DefaultMaxTasksPerTick = 10
)

// Options tune the scheduler loop. Zero values fall back to defaults.
type Options struct {
	PollInterval    time.Duration
	LeaseTimeout    time.Duration
	MaxTasksPerTick int
}

// Scheduler polls the store for due tasks, claims them through the lease
// manager and dispatches each to the executor. Multiple scheduler processes
// may run against the same store; leases are the only coordination between
// them.
type Scheduler struct {
	store    Store
	executor *Executor
	lease    *LeaseManager
	logger   *slog.Logger

	pollInterval time.Duration
	maxPerTick   int

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store Store, executor *Executor, lease *LeaseManager, logger *slog.Logger, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxTasksPerTick <= 0 {
		opts.MaxTasksPerTick = DefaultMaxTasksPerTick
	}
	return &Scheduler{
		store:        store,
		executor:     executor,
		lease:        lease,
		logger:       logger,
		pollInterval: opts.PollInterval,
		maxPerTick:   opts.MaxTasksPerTick,
	}
}

// Start launches the tick loop. Idempotent: the first call starts the loop
// and returns true, later calls are no-ops returning false. The first tick
// fires immediately, not after the first interval.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("scheduler started", "worker_id", s.lease.WorkerID(), "poll_interval", s.pollInterval)
	return true
}

// Stop terminates the tick loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.RunDueTasks(ctx)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDueTasks(ctx)
		}
	}
}

// RunDueTasks performs one poll: query due, enabled, unleased tasks oldest
// first, claim each and execute sequentially. Errors are contained per task;
// nothing propagates to the caller.
func (s *Scheduler) RunDueTasks(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.store.DueTasks(ctx, now, s.lease.timeout, s.maxPerTick)
	if err != nil {
		s.logger.Error("query due tasks", "err", err)
		return
	}

	for _, task := range due {
		locked, err := s.lease.Acquire(ctx, task, now, false)
		if err != nil {
			if !errors.Is(err, ErrLeaseHeld) {
				s.logger.Error("acquire lease", "task_id", task.ID, "err", err)
			}
			continue
		}

		if _, err := s.executor.Execute(ctx, locked, now, TriggerSchedule); err != nil {
			// The result write failed, so the lease is still held. Free it
			// rather than letting it dangle until the timeout.
			s.logger.Error("execute task", "task_id", locked.ID, "err", err)
			if relErr := s.lease.Release(ctx, locked.ID, time.Now().UTC()); relErr != nil {
				s.logger.Error("release lease", "task_id", locked.ID, "err", relErr)
			}
		}
	}
}

// RunTaskNow forces an immediate execution of a task owned by userID,
// bypassing the due-time check but not an unexpired lease. Returns
// ErrTaskNotFound or ErrTaskLocked as typed failures for the caller.
func (s *Scheduler) RunTaskNow(ctx context.Context, taskID, userID string) (Outcome, error) {
	task, err := s.store.GetUserTask(ctx, taskID, userID)
	if err != nil {
		return Outcome{}, err
	}

	now := time.Now().UTC()
	locked, err := s.lease.Acquire(ctx, task, now, true)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			return Outcome{}, ErrTaskLocked
		}
		return Outcome{}, err
	}

	outcome, err := s.executor.Execute(ctx, locked, now, TriggerManual)
	if err != nil {
		if relErr := s.lease.Release(ctx, locked.ID, time.Now().UTC()); relErr != nil {
			s.logger.Error("release lease", "task_id", locked.ID, "err", relErr)
		}
		return Outcome{}, err
	}
	return outcome, nil
}

// ReconcileTimezone recomputes next_run_at for every enabled cron task owned
// by userID using the new timezone and now as reference. Interval and
// one-shot schedules do not depend on the timezone and are left untouched.
func (s *Scheduler) ReconcileTimezone(ctx context.Context, userID, timezone string, now time.Time) error {
	tasks, err := s.store.EnabledCronTasks(ctx, userID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		next := ComputeNextRunAt(task.Spec(), now, timezone)
		if next == nil {
			continue
		}
		if err := s.store.UpdateTaskNextRun(ctx, task.ID, next); err != nil {
			s.logger.Error("update next_run_at", "task_id", task.ID, "err", err)
		}
	}
	return nil
}
