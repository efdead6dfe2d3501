package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nanosched/internal/core"

	"github.com/go-chi/chi/v5"
)

type scheduleRequest struct {
	Type            string  `json:"type"`
	Cron            *string `json:"cron,omitempty"`
	IntervalSeconds *int    `json:"interval_seconds,omitempty"`
	RunAt           *string `json:"run_at,omitempty"`
}

type createTaskRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Enabled     *bool           `json:"enabled"`
	Schedule    scheduleRequest `json:"schedule"`
	Payload     json.RawMessage `json:"payload"`
}

type updateTaskRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Enabled     *bool            `json:"enabled"`
	Schedule    *scheduleRequest `json:"schedule"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
}

type scheduleResponse struct {
	Type            string  `json:"type"`
	Cron            *string `json:"cron,omitempty"`
	IntervalSeconds *int    `json:"interval_seconds,omitempty"`
	RunAt           *string `json:"run_at,omitempty"`
}

type taskResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   *string          `json:"description,omitempty"`
	Enabled       bool             `json:"enabled"`
	Schedule      scheduleResponse `json:"schedule"`
	Payload       json.RawMessage  `json:"payload"`
	NextRunAt     *string          `json:"next_run_at,omitempty"`
	LastRunAt     *string          `json:"last_run_at,omitempty"`
	LastRunStatus *string          `json:"last_run_status,omitempty"`
	LastRunError  *string          `json:"last_run_error,omitempty"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

// parseSchedule validates the tagged schedule variant and writes it onto the
// task. Exactly one variant field must match the type.
func parseSchedule(req scheduleRequest, task *core.ScheduledTask) (string, bool) {
	switch core.ScheduleType(req.Type) {
	case core.ScheduleCron:
		if req.Cron == nil || strings.TrimSpace(*req.Cron) == "" {
			return "cron expression is required", false
		}
		expr := strings.TrimSpace(*req.Cron)
		if _, err := core.ParseCron(expr); err != nil {
			return err.Error(), false
		}
		task.ScheduleType = core.ScheduleCron
		task.CronExpression = &expr
		task.IntervalSeconds = nil
		task.RunAt = nil
	case core.ScheduleInterval:
		if req.IntervalSeconds == nil || *req.IntervalSeconds <= 0 {
			return "interval_seconds must be a positive integer", false
		}
		task.ScheduleType = core.ScheduleInterval
		task.IntervalSeconds = req.IntervalSeconds
		task.CronExpression = nil
		task.RunAt = nil
	case core.ScheduleOnce:
		if req.RunAt == nil {
			return "run_at is required", false
		}
		runAt, err := time.Parse(time.RFC3339, *req.RunAt)
		if err != nil {
			return "invalid run_at value", false
		}
		runAt = runAt.UTC()
		task.ScheduleType = core.ScheduleOnce
		task.RunAt = &runAt
		task.CronExpression = nil
		task.IntervalSeconds = nil
	default:
		return "schedule type must be cron, interval or once", false
	}
	return "", true
}

func validateTaskFields(name string, description *string, payload json.RawMessage) string {
	if name == "" || len(name) > 100 {
		return "name must be 1-100 characters"
	}
	if description != nil && len(*description) > 500 {
		return "description must be at most 500 characters"
	}
	var obj map[string]json.RawMessage
	if len(payload) == 0 || json.Unmarshal(payload, &obj) != nil || obj == nil {
		return "payload must be a JSON object"
	}
	return ""
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if msg := validateTaskFields(req.Name, req.Description, req.Payload); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_input", msg)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	task := &core.ScheduledTask{
		ID:          core.NewID(),
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Payload:     req.Payload,
	}
	if msg, ok := parseSchedule(req.Schedule, task); !ok {
		writeError(w, http.StatusBadRequest, "invalid_schedule", msg)
		return
	}

	timezone, err := s.store.GetUserTimezone(r.Context(), userID)
	if err != nil {
		s.logger.Error("get user timezone", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve timezone")
		return
	}

	now := time.Now().UTC()
	if enabled {
		task.NextRunAt = core.ComputeNextRunAt(task.Spec(), now, timezone)
		if task.ScheduleType != core.ScheduleOnce && task.NextRunAt == nil {
			writeError(w, http.StatusBadRequest, "invalid_schedule", "invalid schedule configuration")
			return
		}
	}

	if err := s.store.InsertTask(r.Context(), task); err != nil {
		s.logger.Error("insert task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}

	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	tasks, err := s.store.ListUserTasks(r.Context(), userID)
	if err != nil {
		s.logger.Error("list tasks", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetUserTask(r.Context(), taskID, requestUserID(r))
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	userID := requestUserID(r)
	task, err := s.store.GetUserTask(r.Context(), taskID, userID)
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task for update", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if req.Name != nil {
		task.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		if *req.Description == "" {
			task.Description = nil
		} else {
			task.Description = req.Description
		}
	}
	if req.Payload != nil {
		task.Payload = req.Payload
	}
	if msg := validateTaskFields(task.Name, task.Description, task.Payload); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_input", msg)
		return
	}

	scheduleChanged := false
	if req.Schedule != nil {
		if msg, ok := parseSchedule(*req.Schedule, task); !ok {
			writeError(w, http.StatusBadRequest, "invalid_schedule", msg)
			return
		}
		scheduleChanged = true
	}

	enabledChanged := false
	if req.Enabled != nil && *req.Enabled != task.Enabled {
		task.Enabled = *req.Enabled
		enabledChanged = true
	}

	if task.Enabled && (scheduleChanged || enabledChanged) {
		timezone, err := s.store.GetUserTimezone(r.Context(), userID)
		if err != nil {
			s.logger.Error("get user timezone", "user_id", userID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve timezone")
			return
		}
		task.NextRunAt = core.ComputeNextRunAt(task.Spec(), time.Now().UTC(), timezone)
		if task.ScheduleType != core.ScheduleOnce && task.NextRunAt == nil {
			writeError(w, http.StatusBadRequest, "invalid_schedule", "invalid schedule configuration")
			return
		}
	}
	if !task.Enabled {
		task.NextRunAt = nil
	}

	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error("update task", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
		return
	}

	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.DeleteTask(r.Context(), taskID, requestUserID(r)); err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("delete task", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	outcome, err := s.scheduler.RunTaskNow(r.Context(), taskID, requestUserID(r))
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		case errors.Is(err, core.ErrTaskLocked):
			writeError(w, http.StatusConflict, "locked", "task is currently running")
		default:
			s.logger.Error("run task now", "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to run task")
		}
		return
	}
	resp := map[string]any{"status": outcome.Status}
	if outcome.Error != "" {
		resp["error"] = outcome.Error
	}
	if outcome.Result != nil {
		resp["result"] = json.RawMessage(outcome.Result)
	}
	writeJSON(w, http.StatusOK, resp)
}

func taskToResponse(task *core.ScheduledTask) taskResponse {
	schedule := scheduleResponse{Type: string(task.ScheduleType)}
	schedule.Cron = task.CronExpression
	schedule.IntervalSeconds = task.IntervalSeconds
	schedule.RunAt = formatTimePtr(task.RunAt)

	resp := taskResponse{
		ID:          task.ID,
		Name:        task.Name,
		Description: task.Description,
		Enabled:     task.Enabled,
		Schedule:    schedule,
		Payload:     task.Payload,
		NextRunAt:   formatTimePtr(task.NextRunAt),
		LastRunAt:   formatTimePtr(task.LastRunAt),
		CreatedAt:   task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   task.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if task.LastRunStatus != nil {
		status := string(*task.LastRunStatus)
		resp.LastRunStatus = &status
	}
	resp.LastRunError = task.LastRunError
	return resp
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
