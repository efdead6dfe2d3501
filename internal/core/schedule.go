package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleSpec is the schedule definition of a task, one variant populated
// according to Type.
type ScheduleSpec struct {
	Type            ScheduleType
	CronExpression  *string
	IntervalSeconds *int
	RunAt           *time.Time
}

// ResolveTimezone validates an IANA timezone name and falls back to UTC for
// anything the platform cannot load. A bad stored timezone string must never
// break scheduling.
func ResolveTimezone(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "UTC"
	}
	if _, err := time.LoadLocation(trimmed); err != nil {
		return "UTC"
	}
	return trimmed
}

// ComputeNextRunAt returns the next execution instant for a schedule, or nil
// when the schedule cannot produce one (missing one-shot time, non-positive
// interval, unparseable cron expression).
//
// once schedules return their configured time verbatim; interval schedules
// return reference + interval; cron schedules return the next match strictly
// after reference, evaluated in the given timezone. Pure function, called
// from the tick path, interactive previews and timezone reconciliation.
func ComputeNextRunAt(spec ScheduleSpec, reference time.Time, timezone string) *time.Time {
	switch spec.Type {
	case ScheduleOnce:
		return spec.RunAt
	case ScheduleInterval:
		if spec.IntervalSeconds == nil || *spec.IntervalSeconds <= 0 {
			return nil
		}
		next := reference.Add(time.Duration(*spec.IntervalSeconds) * time.Second)
		return &next
	case ScheduleCron:
		if spec.CronExpression == nil {
			return nil
		}
		schedule, err := parseCronInTimezone(*spec.CronExpression, ResolveTimezone(timezone))
		if err != nil {
			return nil
		}
		next := schedule.Next(reference)
		if next.IsZero() {
			return nil
		}
		next = next.UTC()
		return &next
	default:
		return nil
	}
}

// ParseCron validates a user-supplied 5-field cron expression. Descriptors
// and timezone prefixes are rejected; the evaluation timezone comes from the
// owner's settings, not the expression.
func ParseCron(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	if strings.HasPrefix(trimmed, "TZ=") || strings.HasPrefix(trimmed, "CRON_TZ=") {
		return nil, fmt.Errorf("timezone prefixes are not allowed in cron expressions")
	}
	schedule, err := cronParser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		times = append(times, next)
	}
	return times
}

func parseCronInTimezone(expr, timezone string) (cron.Schedule, error) {
	if _, err := ParseCron(expr); err != nil {
		return nil, err
	}
	return cronParser.Parse(fmt.Sprintf("CRON_TZ=%s %s", timezone, strings.TrimSpace(expr)))
}
