package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same conditional-update lease
// semantics as the SQLite implementation.
type memStore struct {
	mu        sync.Mutex
	tasks     map[string]*ScheduledTask
	runs      []*TaskRun
	timezones map[string]string

	failSaveRunResult bool
}

func newMemStore() *memStore {
	return &memStore{
		tasks:     make(map[string]*ScheduledTask),
		timezones: make(map[string]string),
	}
}

func (m *memStore) put(task *ScheduledTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *task
	m.tasks[task.ID] = &copied
}

func (m *memStore) get(id string) *ScheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		copied := *task
		return &copied
	}
	return nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	task := m.get(id)
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (m *memStore) GetUserTask(ctx context.Context, id, userID string) (*ScheduledTask, error) {
	task := m.get(id)
	if task == nil || task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (m *memStore) DueTasks(ctx context.Context, now time.Time, leaseTimeout time.Duration, limit int) ([]*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry := now.Add(-leaseTimeout)
	var due []*ScheduledTask
	for _, task := range m.tasks {
		if !task.Enabled || task.NextRunAt == nil || task.NextRunAt.After(now) {
			continue
		}
		if task.LockedAt != nil && !task.LockedAt.Before(expiry) {
			continue
		}
		copied := *task
		due = append(due, &copied)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(*due[j].NextRunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) EnabledCronTasks(ctx context.Context, userID string) ([]*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []*ScheduledTask
	for _, task := range m.tasks {
		if task.UserID == userID && task.ScheduleType == ScheduleCron && task.Enabled {
			copied := *task
			tasks = append(tasks, &copied)
		}
	}
	return tasks, nil
}

func (m *memStore) UpdateTaskNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		task.NextRunAt = nextRunAt
	}
	return nil
}

func (m *memStore) AcquireLease(ctx context.Context, taskID, workerID string, now time.Time, leaseTimeout time.Duration, force bool) (*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrLeaseHeld
	}
	expiry := now.Add(-leaseTimeout)
	if task.LockedAt != nil && !task.LockedAt.Before(expiry) {
		return nil, ErrLeaseHeld
	}
	if !force {
		if !task.Enabled || task.NextRunAt == nil || task.NextRunAt.After(now) {
			return nil, ErrLeaseHeld
		}
	}
	task.LockedAt = &now
	task.LockedBy = &workerID
	copied := *task
	return &copied, nil
}

func (m *memStore) ReleaseLease(ctx context.Context, taskID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[taskID]; ok {
		task.LockedAt = nil
		task.LockedBy = nil
	}
	return nil
}

func (m *memStore) SaveRunResult(ctx context.Context, result *RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaveRunResult {
		return errStoreUnavailable
	}
	task, ok := m.tasks[result.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	lastRunAt := result.LastRunAt
	status := result.LastRunStatus
	task.LastRunAt = &lastRunAt
	task.LastRunStatus = &status
	task.LastRunError = result.LastRunError
	task.NextRunAt = result.NextRunAt
	task.Enabled = result.Enabled
	task.LockedAt = nil
	task.LockedBy = nil
	return nil
}

func (m *memStore) InsertRun(ctx context.Context, run *TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs = append(m.runs, &copied)
	return nil
}

func (m *memStore) PruneOldRuns(ctx context.Context, taskID string) error {
	return nil
}

func (m *memStore) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timezones[userID], nil
}
