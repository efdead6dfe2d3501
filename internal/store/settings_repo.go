package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nanosched/internal/core"
)

// GetOrCreateUserSettings returns the settings row for a user, inserting an
// empty one on first access.
func (s *Store) GetOrCreateUserSettings(ctx context.Context, userID string) (*core.UserSettings, error) {
	settings, err := s.getUserSettings(ctx, userID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, timezone, created_at, updated_at)
		VALUES (?, NULL, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, formatTime(now), formatTime(now)); err != nil {
		return nil, fmt.Errorf("insert user settings: %w", err)
	}
	return s.getUserSettings(ctx, userID)
}

// UpdateUserTimezone stores a timezone preference. Callers are expected to
// normalize the value first; reconciliation of cron tasks happens above the
// store.
func (s *Store) UpdateUserTimezone(ctx context.Context, userID, timezone string) error {
	if _, err := s.GetOrCreateUserSettings(ctx, userID); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
		UPDATE user_settings
		SET timezone = ?, updated_at = ?
		WHERE user_id = ?
	`, timezone, formatTime(time.Now().UTC()), userID)
	if err != nil {
		return fmt.Errorf("update user timezone: %w", err)
	}
	return nil
}

// GetUserTimezone returns the stored timezone name for a user, or the empty
// string when none is set. Resolution to a valid IANA zone happens in core.
func (s *Store) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	settings, err := s.getUserSettings(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if settings.Timezone == nil {
		return "", nil
	}
	return *settings.Timezone, nil
}

func (s *Store) getUserSettings(ctx context.Context, userID string) (*core.UserSettings, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT user_id, timezone, created_at, updated_at
		FROM user_settings
		WHERE user_id = ?
	`, userID)
	var (
		id                   string
		timezone             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &timezone, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user settings: %w", err)
	}
	settings := &core.UserSettings{UserID: id}
	settings.Timezone = stringPtr(timezone)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		settings.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		settings.UpdatedAt = t
	}
	return settings, nil
}
