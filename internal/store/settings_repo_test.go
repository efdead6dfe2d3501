package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateUserSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	settings, err := s.GetOrCreateUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", settings.UserID)
	assert.Nil(t, settings.Timezone)

	// Second call returns the same row instead of inserting another.
	again, err := s.GetOrCreateUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, settings.CreatedAt, again.CreatedAt)
}

func TestUpdateUserTimezone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tz, err := s.GetUserTimezone(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tz)

	require.NoError(t, s.UpdateUserTimezone(ctx, "u1", "Asia/Tokyo"))

	tz, err = s.GetUserTimezone(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", tz)

	// Settings row was created on the fly.
	settings, err := s.GetOrCreateUserSettings(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, settings.Timezone)
	assert.Equal(t, "Asia/Tokyo", *settings.Timezone)
}
