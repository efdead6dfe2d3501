package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nanosched/internal/core"
)

func (s *Store) InsertRun(ctx context.Context, run *core.TaskRun) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_id, run_trigger, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, run.Trigger, run.Status, nullableString(run.Error),
		formatTime(run.StartedAt), formatTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, taskID string, limit, offset int) ([]*core.TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, run_trigger, status, error, started_at, finished_at
		FROM task_runs
		WHERE task_id = ?
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// PruneOldRuns keeps only the most recent RunRetention history rows per task.
func (s *Store) PruneOldRuns(ctx context.Context, taskID string) error {
	if s.RunRetention <= 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM task_runs
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM task_runs
			WHERE task_id = ?
			ORDER BY started_at DESC
			LIMIT ?
		)
	`, taskID, taskID, s.RunRetention)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

func scanRun(rows *sql.Rows) (*core.TaskRun, error) {
	var (
		id, taskID, trigger, status string
		errMsg                      sql.NullString
		startedAt, finishedAt       string
	)
	if err := rows.Scan(&id, &taskID, &trigger, &status, &errMsg, &startedAt, &finishedAt); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run := &core.TaskRun{
		ID:      id,
		TaskID:  taskID,
		Trigger: core.RunTrigger(trigger),
		Status:  core.RunStatus(status),
	}
	run.Error = stringPtr(errMsg)
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
		run.FinishedAt = t
	}
	return run, nil
}
