package api

import (
	"encoding/json"
	"net/http"
	"time"

	"nanosched/internal/core"
)

type schedulePreviewRequest struct {
	Schedule scheduleRequest `json:"schedule"`
	Timezone string          `json:"timezone,omitempty"`
	Now      string          `json:"now,omitempty"`
	Count    int             `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Valid     bool     `json:"valid"`
	Timezone  string   `json:"timezone,omitempty"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// handleSchedulePreview computes the upcoming execution times for any of the
// three schedule variants without persisting anything.
func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}

	var task core.ScheduledTask
	if msg, ok := parseSchedule(req.Schedule, &task); !ok {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: msg})
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		tz, err := s.store.GetUserTimezone(r.Context(), requestUserID(r))
		if err == nil {
			timezone = tz
		}
	}
	timezone = core.ResolveTimezone(timezone)

	base := time.Now().UTC()
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.UTC()
		}
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}
	// Non-cron schedules have at most one meaningful next time.
	if task.ScheduleType != core.ScheduleCron {
		count = 1
	}

	times := make([]string, 0, count)
	ref := base
	for i := 0; i < count; i++ {
		next := core.ComputeNextRunAt(task.Spec(), ref, timezone)
		if next == nil {
			break
		}
		times = append(times, next.UTC().Format(time.RFC3339))
		ref = *next
	}
	if len(times) == 0 {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Timezone: timezone, Message: "schedule produces no executions"})
		return
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: true, Timezone: timezone, NextTimes: times})
}
