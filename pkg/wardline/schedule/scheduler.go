package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardlinehq/wardline/pkg/wardline/store"
)

// rescheduleThreshold is the smallest drift that triggers moving an
// existing pending job. Anything under it is clock noise.
const rescheduleThreshold = time.Second

// Scheduler keeps exactly one upcoming job per active schedule.
type Scheduler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewScheduler creates a job scheduler over the store.
func NewScheduler(st *store.Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  st,
		logger: logger.With("component", "scheduler"),
	}
}

// EnsureNextJob guarantees the schedule has one upcoming job at its next
// run time. A processing or already-due job is left alone; a future pending
// job is moved only when its run time drifted past the threshold; no job
// means a new one is created at attempt 1.
func (s *Scheduler) EnsureNextJob(sched *store.Schedule, now time.Time) error {
	next, err := NextRunAt(sched, now)
	if err != nil {
		return err
	}

	job, err := s.store.ActiveJobForSchedule(sched.ID)
	if err != nil {
		return err
	}

	if job == nil {
		created, err := s.store.CreateJob(sched.ID, next, 1)
		if errors.Is(err, store.ErrActiveJobExists) {
			// Another instance seeded this schedule between the read and the
			// insert; the unique index kept the invariant.
			return nil
		}
		if err != nil {
			return err
		}
		s.logger.Info("job created",
			"schedule_id", sched.ID,
			"job_id", created.ID,
			"run_at", next.Format(time.RFC3339),
		)
		return nil
	}

	if job.Status == store.JobProcessing {
		return nil
	}

	// A due job belongs to the dispatcher; moving it forward would starve it.
	if !job.RunAt.After(now) {
		return nil
	}

	drift := job.RunAt.Sub(next)
	if drift < 0 {
		drift = -drift
	}
	if drift < rescheduleThreshold {
		return nil
	}

	err = s.store.RescheduleJob(job.ID, next)
	if errors.Is(err, store.ErrNotFound) {
		// Claimed between the read and the update; the dispatcher owns it now.
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("job rescheduled",
		"schedule_id", sched.ID,
		"job_id", job.ID,
		"run_at", next.Format(time.RFC3339),
	)
	return nil
}

// SeedUpcomingJobs walks every active schedule and ensures its next job.
// Per-schedule failures are logged and skipped so one bad schedule cannot
// starve the rest. Returns the number of schedules processed successfully.
func (s *Scheduler) SeedUpcomingJobs(now time.Time) (int, error) {
	const pageSize = 100

	processed := 0
	for offset := 0; ; offset += pageSize {
		batch, err := s.store.ListActiveSchedules(pageSize, offset)
		if err != nil {
			return processed, fmt.Errorf("seed jobs: %w", err)
		}
		if len(batch) == 0 {
			return processed, nil
		}
		for _, sched := range batch {
			if err := s.EnsureNextJob(sched, now); err != nil {
				s.logger.Warn("failed to ensure next job",
					"schedule_id", sched.ID,
					"error", err,
				)
				continue
			}
			processed++
		}
		if len(batch) < pageSize {
			return processed, nil
		}
	}
}
