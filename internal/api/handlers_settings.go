package api

import (
	"encoding/json"
	"net/http"
	"time"

	"nanosched/internal/core"
)

type settingsResponse struct {
	UserID    string  `json:"user_id"`
	Timezone  *string `json:"timezone,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type updateSettingsRequest struct {
	Timezone *string `json:"timezone"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	settings, err := s.store.GetOrCreateUserSettings(r.Context(), userID)
	if err != nil {
		s.logger.Error("get user settings", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsToResponse(settings))
}

// handleUpdateSettings stores the user's timezone and, when it actually
// changed, reconciles next_run_at for all their enabled cron tasks against
// the new zone. Interval and one-shot tasks are timezone independent.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Timezone == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "timezone is required")
		return
	}

	existing, err := s.store.GetOrCreateUserSettings(r.Context(), userID)
	if err != nil {
		s.logger.Error("get user settings", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load settings")
		return
	}
	previous := "UTC"
	if existing.Timezone != nil {
		previous = core.ResolveTimezone(*existing.Timezone)
	}

	// Unknown zone names degrade to UTC rather than being rejected.
	timezone := core.ResolveTimezone(*req.Timezone)
	if err := s.store.UpdateUserTimezone(r.Context(), userID, timezone); err != nil {
		s.logger.Error("update user timezone", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update settings")
		return
	}

	if timezone != previous {
		if err := s.scheduler.ReconcileTimezone(r.Context(), userID, timezone, time.Now().UTC()); err != nil {
			s.logger.Error("reconcile timezone", "user_id", userID, "err", err)
		}
	}

	settings, err := s.store.GetOrCreateUserSettings(r.Context(), userID)
	if err != nil {
		s.logger.Error("get user settings", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsToResponse(settings))
}

func settingsToResponse(settings *core.UserSettings) settingsResponse {
	return settingsResponse{
		UserID:    settings.UserID,
		Timezone:  settings.Timezone,
		CreatedAt: settings.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: settings.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
