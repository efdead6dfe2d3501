package core

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestResolveTimezone(t *testing.T) {
	assert.Equal(t, "UTC", ResolveTimezone(""))
	assert.Equal(t, "UTC", ResolveTimezone("   "))
	assert.Equal(t, "UTC", ResolveTimezone("Not/AZone"))
	assert.Equal(t, "UTC", ResolveTimezone("garbage"))
	assert.Equal(t, "America/New_York", ResolveTimezone("America/New_York"))
	assert.Equal(t, "Europe/Berlin", ResolveTimezone(" Europe/Berlin "))
}

func TestComputeNextRunAtOnce(t *testing.T) {
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	runAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	next := ComputeNextRunAt(ScheduleSpec{Type: ScheduleOnce, RunAt: &runAt}, reference, "UTC")
	require.NotNil(t, next)
	// The configured time is returned verbatim, even if it is in the past.
	assert.Equal(t, runAt, *next)

	assert.Nil(t, ComputeNextRunAt(ScheduleSpec{Type: ScheduleOnce}, reference, "UTC"))
}

func TestComputeNextRunAtInterval(t *testing.T) {
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	next := ComputeNextRunAt(ScheduleSpec{Type: ScheduleInterval, IntervalSeconds: intp(90)}, reference, "UTC")
	require.NotNil(t, next)
	assert.Equal(t, reference.Add(90*time.Second), *next)

	assert.Nil(t, ComputeNextRunAt(ScheduleSpec{Type: ScheduleInterval}, reference, "UTC"))
	assert.Nil(t, ComputeNextRunAt(ScheduleSpec{Type: ScheduleInterval, IntervalSeconds: intp(0)}, reference, "UTC"))
	assert.Nil(t, ComputeNextRunAt(ScheduleSpec{Type: ScheduleInterval, IntervalSeconds: intp(-5)}, reference, "UTC"))
}

func TestComputeNextRunAtCron(t *testing.T) {
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	next := ComputeNextRunAt(ScheduleSpec{Type: ScheduleCron, CronExpression: strp("*/5 * * * *")}, reference, "UTC")
	require.NotNil(t, next)
	assert.True(t, next.After(reference), "next run must be strictly after the reference")
	assert.Equal(t, time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC), *next)
}

func TestComputeNextRunAtCronTimezone(t *testing.T) {
	// 9am in New York is 14:00 UTC during winter time.
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := ComputeNextRunAt(ScheduleSpec{Type: ScheduleCron, CronExpression: strp("0 9 * * *")}, reference, "America/New_York")
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), next.UTC())
}

func TestComputeNextRunAtCronInvalid(t *testing.T) {
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, ComputeNextRunAt(ScheduleSpec{Type: ScheduleCron}, reference, "UTC"))
	assert.Nil(t, ComputeNextRunAt(ScheduleSpec{Type: ScheduleCron, CronExpression: strp("not a cron")}, reference, "UTC"))
	assert.Nil(t, ComputeNextRunAt(ScheduleSpec{Type: ScheduleCron, CronExpression: strp("99 99 * * *")}, reference, "UTC"))
}

func TestComputeNextRunAtCronBadTimezoneFallsBackToUTC(t *testing.T) {
	reference := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := ComputeNextRunAt(ScheduleSpec{Type: ScheduleCron, CronExpression: strp("0 9 * * *")}, reference, "Mars/Olympus")
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestParseCron(t *testing.T) {
	_, err := ParseCron("*/10 * * * *")
	require.NoError(t, err)

	_, err = ParseCron("@hourly")
	assert.Error(t, err)

	_, err = ParseCron("CRON_TZ=UTC * * * * *")
	assert.Error(t, err)

	_, err = ParseCron("* * *")
	assert.Error(t, err)
}

func TestNextOccurrences(t *testing.T) {
	schedule, err := ParseCron("0 * * * *")
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	times := NextOccurrences(schedule, base, 3)
	require.Len(t, times, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), times[0].UTC())
	assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), times[1].UTC())
	assert.Equal(t, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), times[2].UTC())
}
