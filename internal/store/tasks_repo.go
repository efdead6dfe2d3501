package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nanosched/internal/core"
)

const taskColumns = `id, user_id, name, description, enabled, schedule_type, cron_expression,
	interval_seconds, run_at, payload, next_run_at, last_run_at, last_run_status,
	last_run_error, locked_at, locked_by, created_at, updated_at`

func (s *Store) InsertTask(ctx context.Context, task *core.ScheduledTask) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, user_id, name, description, enabled, schedule_type,
			cron_expression, interval_seconds, run_at, payload, next_run_at, last_run_at,
			last_run_status, last_run_error, locked_at, locked_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.UserID, task.Name, nullableString(task.Description), boolToInt(task.Enabled),
		task.ScheduleType, nullableString(task.CronExpression), nullableInt(task.IntervalSeconds),
		nullableTime(task.RunAt), string(task.Payload), nullableTime(task.NextRunAt),
		nullableTime(task.LastRunAt), nullableStatus(task.LastRunStatus), nullableString(task.LastRunError),
		nullableTime(task.LockedAt), nullableString(task.LockedBy),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, task *core.ScheduledTask) error {
	task.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET name = ?, description = ?, enabled = ?, schedule_type = ?, cron_expression = ?,
			interval_seconds = ?, run_at = ?, payload = ?, next_run_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, task.Name, nullableString(task.Description), boolToInt(task.Enabled), task.ScheduleType,
		nullableString(task.CronExpression), nullableInt(task.IntervalSeconds), nullableTime(task.RunAt),
		string(task.Payload), nullableTime(task.NextRunAt), formatTime(task.UpdatedAt),
		task.ID, task.UserID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOneRow(res, core.ErrTaskNotFound)
}

func (s *Store) DeleteTask(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOneRow(res, core.ErrTaskNotFound)
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.ScheduledTask, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id)
	return scanTaskRow(row)
}

// GetUserTask fetches a task scoped to its owner. Tasks are only visible to
// the user that created them.
func (s *Store) GetUserTask(ctx context.Context, id, userID string) (*core.ScheduledTask, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ? AND user_id = ?`, id, userID)
	return scanTaskRow(row)
}

func (s *Store) ListUserTasks(ctx context.Context, userID string) ([]*core.ScheduledTask, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	return collectTasks(rows)
}

// DueTasks returns up to limit enabled tasks whose next run is at or before
// now and whose lease is absent or expired, oldest due first so long-overdue
// tasks are not starved.
func (s *Store) DueTasks(ctx context.Context, now time.Time, leaseTimeout time.Duration, limit int) ([]*core.ScheduledTask, error) {
	expiry := now.Add(-leaseTimeout)
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE enabled = 1
			AND next_run_at IS NOT NULL AND next_run_at <= ?
			AND (locked_at IS NULL OR locked_at < ?)
		ORDER BY next_run_at ASC
		LIMIT ?
	`, formatTime(now), formatTime(expiry), limit)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *Store) EnabledCronTasks(ctx context.Context, userID string) ([]*core.ScheduledTask, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE user_id = ? AND schedule_type = ? AND enabled = 1
	`, userID, core.ScheduleCron)
	if err != nil {
		return nil, fmt.Errorf("query cron tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *Store) UpdateTaskNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(nextRunAt), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update next_run_at: %w", err)
	}
	return nil
}

// AcquireLease performs the single conditional update that grants a lease:
// the row must be unleased or hold an expired lease, and unless force is set
// it must also still be enabled and due. Returns core.ErrLeaseHeld when no
// row matched.
func (s *Store) AcquireLease(ctx context.Context, taskID, workerID string, now time.Time, leaseTimeout time.Duration, force bool) (*core.ScheduledTask, error) {
	expiry := now.Add(-leaseTimeout)

	query := `
		UPDATE scheduled_tasks
		SET locked_at = ?, locked_by = ?, updated_at = ?
		WHERE id = ?
			AND (locked_at IS NULL OR locked_at < ?)
	`
	args := []any{formatTime(now), workerID, formatTime(now), taskID, formatTime(expiry)}
	if !force {
		query += ` AND enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?`
		args = append(args, formatTime(now))
	}

	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquire lease rows: %w", err)
	}
	if rows == 0 {
		return nil, core.ErrLeaseHeld
	}
	return s.GetTask(ctx, taskID)
}

// ReleaseLease clears the lease fields unconditionally. Releasing an
// unleased task is a no-op, not an error.
func (s *Store) ReleaseLease(ctx context.Context, taskID string, now time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE id = ?
	`, formatTime(now), taskID)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// SaveRunResult writes the post-execution state and clears the lease in one
// statement.
func (s *Store) SaveRunResult(ctx context.Context, result *core.RunResult) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET last_run_at = ?, last_run_status = ?, last_run_error = ?, next_run_at = ?,
			enabled = ?, locked_at = NULL, locked_by = NULL, updated_at = ?
		WHERE id = ?
	`, formatTime(result.LastRunAt), result.LastRunStatus, nullableString(result.LastRunError),
		nullableTime(result.NextRunAt), boolToInt(result.Enabled), formatTime(time.Now().UTC()),
		result.TaskID)
	if err != nil {
		return fmt.Errorf("save run result: %w", err)
	}
	return nil
}

func collectTasks(rows *sql.Rows) ([]*core.ScheduledTask, error) {
	defer rows.Close()
	var tasks []*core.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTaskRow(row *sql.Row) (*core.ScheduledTask, error) {
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.ScheduledTask, error) {
	var (
		id, userID, name string
		description      sql.NullString
		enabled          int
		scheduleType     string
		cronExpr         sql.NullString
		intervalSecs     sql.NullInt64
		runAt            sql.NullString
		payload          string
		nextRun, lastRun sql.NullString
		lastStatus       sql.NullString
		lastError        sql.NullString
		lockedAt         sql.NullString
		lockedBy         sql.NullString
		createdAt        string
		updatedAt        string
	)
	if err := scanner.Scan(&id, &userID, &name, &description, &enabled, &scheduleType,
		&cronExpr, &intervalSecs, &runAt, &payload, &nextRun, &lastRun,
		&lastStatus, &lastError, &lockedAt, &lockedBy, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task := &core.ScheduledTask{
		ID:           id,
		UserID:       userID,
		Name:         name,
		Enabled:      enabled != 0,
		ScheduleType: core.ScheduleType(scheduleType),
		Payload:      []byte(payload),
	}
	task.Description = stringPtr(description)
	task.CronExpression = stringPtr(cronExpr)
	if intervalSecs.Valid {
		val := int(intervalSecs.Int64)
		task.IntervalSeconds = &val
	}
	task.RunAt = timePtr(runAt)
	task.NextRunAt = timePtr(nextRun)
	task.LastRunAt = timePtr(lastRun)
	if lastStatus.Valid {
		status := core.RunStatus(lastStatus.String)
		task.LastRunStatus = &status
	}
	task.LastRunError = stringPtr(lastError)
	task.LockedAt = timePtr(lockedAt)
	task.LockedBy = stringPtr(lockedBy)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		task.UpdatedAt = t
	}
	return task, nil
}

func expectOneRow(res sql.Result, missing error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return missing
	}
	return nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v.String); err == nil {
		return &t
	}
	return nil
}

// Times are stored as second-precision UTC RFC3339 text. The fixed width
// keeps SQL string comparisons on next_run_at and locked_at consistent with
// chronological order, which RFC3339Nano's trimmed fractions would not.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableStatus(value *core.RunStatus) any {
	if value == nil {
		return nil
	}
	return string(*value)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
