// Package schedule decides when reassurance calls happen: a pure next-run
// calculator, a job scheduler that keeps exactly one upcoming job per
// schedule, and a dispatcher that claims due jobs and places the calls.
package schedule

import (
	"fmt"
	"time"

	"github.com/wardlinehq/wardline/pkg/wardline/store"
)

// NextRunAt computes the next run time for a schedule, from now, in UTC.
// The trigger time is the schedule's wall-clock frequency time: today if it
// has not passed yet, otherwise tomorrow.
//
// Only daily rollover is implemented. The schedule model carries
// weekly/biweekly/monthly cadences and a day-of-week set, but those are not
// enforced here yet; such schedules currently fire daily at their trigger
// time.
func NextRunAt(sched *store.Schedule, now time.Time) (time.Time, error) {
	hour, minute, sec, err := parseClock(sched.FrequencyTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule %q: %w", sched.ID, err)
	}

	now = now.UTC()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, sec, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate, nil
}

// parseClock parses "HH:MM" or "HH:MM:SS".
func parseClock(v string) (hour, minute, sec int, err error) {
	if v == "" {
		return 0, 0, 0, fmt.Errorf("empty frequency time")
	}
	switch n, _ := fmt.Sscanf(v, "%d:%d:%d", &hour, &minute, &sec); n {
	case 2, 3:
	default:
		return 0, 0, 0, fmt.Errorf("invalid frequency time %q", v)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || sec < 0 || sec > 59 {
		return 0, 0, 0, fmt.Errorf("frequency time %q out of range", v)
	}
	return hour, minute, sec, nil
}
