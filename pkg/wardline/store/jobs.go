// Package store – jobs.go implements the job table and its status
// transitions. The invariant maintained here: at most one job with status
// pending or processing exists per schedule at any time. It is enforced at
// the storage layer by a partial unique index on active jobs, so concurrent
// dispatcher instances seeding the same schedule cannot both insert; the
// claim itself is a conditional one-statement UPDATE so it stays
// exactly-once even with multiple dispatcher processes sharing the database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// ErrActiveJobExists is returned by CreateJob when the schedule already has
// a pending or processing job.
var ErrActiveJobExists = errors.New("store: schedule already has an active job")

// JobStatus is the lifecycle state of a call-attempt job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is a single scheduled call attempt.
type Job struct {
	ID            string
	ScheduleID    string
	RunAt         time.Time
	Attempt       int
	Status        JobStatus
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const jobColumns = `id, schedule_id, run_at, attempt, status, failure_reason, created_at, updated_at`

// CreateJob inserts a new pending job. The active-job unique index makes
// this safe under concurrent seeding: the loser of a race gets
// ErrActiveJobExists instead of a duplicate row.
func (s *Store) CreateJob(scheduleID string, runAt time.Time, attempt int) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		RunAt:      runAt,
		Attempt:    attempt,
		Status:     JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, schedule_id, run_at, attempt, status, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		job.ID, job.ScheduleID, formatTime(job.RunAt), job.Attempt,
		string(job.Status), formatTime(now), formatTime(now),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return nil, fmt.Errorf("create job for schedule %q: %w", scheduleID, ErrActiveJobExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// GetJob loads one job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	return job, err
}

// ActiveJobForSchedule returns the schedule's pending or processing job,
// or nil when none exists.
func (s *Store) ActiveJobForSchedule(scheduleID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobColumns+` FROM jobs
		WHERE schedule_id = ? AND status IN ('pending', 'processing')
		ORDER BY run_at
		LIMIT 1`, scheduleID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for schedule %q: %w", scheduleID, err)
	}
	return job, nil
}

// RescheduleJob moves a pending job to a new run time. The status guard
// keeps an already-claimed job where it is.
func (s *Store) RescheduleJob(id string, runAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET run_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		formatTime(runAt), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("reschedule job %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %q not pending: %w", id, ErrNotFound)
	}
	return nil
}

// DueJobs returns up to limit pending jobs whose run_at has passed.
func (s *Store) DueJobs(now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending' AND run_at <= ?
		ORDER BY run_at
		LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically transitions a job from pending to processing.
// Returns false when another dispatcher already claimed it (or the job is
// gone) — callers skip silently in that case.
func (s *Store) ClaimJob(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'processing', updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("claim job %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job %q: rows affected: %w", id, err)
	}
	return n == 1, nil
}

// MarkJobCompleted finishes a job successfully.
func (s *Store) MarkJobCompleted(id string) error {
	return s.setJobStatus(id, JobCompleted, "")
}

// MarkJobFailed finishes a job with a failure reason. There is no intra-tick
// retry; the schedule's next occurrence is the recovery path.
func (s *Store) MarkJobFailed(id, reason string) error {
	return s.setJobStatus(id, JobFailed, reason)
}

func (s *Store) setJobStatus(id string, status JobStatus, reason string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(status), reason, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark job %q %s: %w", id, status, err)
	}
	return nil
}

// FailStaleJobs fails every processing job untouched since the cutoff.
// A claimed job normally reaches a terminal status through the session
// finalizer or a status callback; when both are lost (call created, stream
// never connected, callback dropped) the job would otherwise stay
// processing forever and block its schedule. Returns the number reclaimed;
// the next seeding pass re-arms the affected schedules.
func (s *Store) FailStaleJobs(cutoff time.Time, reason string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'failed', failure_reason = ?, updated_at = ?
		WHERE status = 'processing' AND updated_at < ?`,
		reason, formatTime(time.Now()), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: rows affected: %w", err)
	}
	return int(n), nil
}

// CountActiveJobs returns the number of pending/processing jobs for a
// schedule. Used by invariant tests and the health surface.
func (s *Store) CountActiveJobs(scheduleID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE schedule_id = ? AND status IN ('pending', 'processing')`,
		scheduleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		job       Job
		status    string
		runAt     string
		createdAt string
		updatedAt string
	)
	err := r.Scan(&job.ID, &job.ScheduleID, &runAt, &job.Attempt,
		&status, &job.FailureReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.RunAt = parseTime(runAt)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}
