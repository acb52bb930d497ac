// Package store – schedules.go implements read access to schedule records.
// Schedules are created and edited by the administrative surface; the call
// engine only reads them and toggles the active flag.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Schedule is a recurring reassurance-call schedule.
type Schedule struct {
	ID          string
	CompanyID   string
	PhoneNumber string
	DisplayName string

	// ScriptConfig is an opaque JSON blob passed through to the agent
	// (call purpose, topics to cover, things to avoid).
	ScriptConfig string

	// FrequencyType is "daily", "weekly", "biweekly", "monthly" or "custom".
	FrequencyType string

	// FrequencyTime is the wall-clock trigger time, "HH:MM" or "HH:MM:SS",
	// interpreted as UTC.
	FrequencyTime string

	// DaysOfWeek is the selected weekday set (0=Sunday). Stored but not yet
	// enforced by the next-run calculator; see schedule.NextRunAt.
	DaysOfWeek []int

	// IntervalDays is the custom cadence interval in days (frequency_type
	// "custom" only).
	IntervalDays int

	MaxAttempts        int
	RetryIntervalMin   int
	Active             bool
	CreatedAt          time.Time
}

const scheduleColumns = `id, company_id, phone_number, display_name, script_config,
	frequency_type, frequency_time, days_of_week, interval_days,
	max_attempts, retry_interval_m, active, created_at`

// CreateSchedule inserts a new schedule and returns it with a generated ID.
func (s *Store) CreateSchedule(sched *Schedule) error {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.FrequencyType == "" {
		sched.FrequencyType = "daily"
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO schedules
			(id, company_id, phone_number, display_name, script_config,
			 frequency_type, frequency_time, days_of_week, interval_days,
			 max_attempts, retry_interval_m, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.CompanyID, sched.PhoneNumber, sched.DisplayName,
		sched.ScriptConfig, sched.FrequencyType, sched.FrequencyTime,
		joinDays(sched.DaysOfWeek), sched.IntervalDays,
		sched.MaxAttempts, sched.RetryIntervalMin,
		boolToInt(sched.Active), formatTime(sched.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// GetSchedule loads one schedule by ID. Returns ErrNotFound if missing.
func (s *Store) GetSchedule(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %q: %w", id, ErrNotFound)
	}
	return sched, err
}

// ListActiveSchedules pages through active schedules ordered by creation.
func (s *Store) ListActiveSchedules(limit, offset int) ([]*Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+` FROM schedules
		WHERE active = 1
		ORDER BY created_at, id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListSchedules returns every schedule (active or not).
func (s *Store) ListSchedules() ([]*Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// SetScheduleActive toggles the active flag.
func (s *Store) SetScheduleActive(id string, active bool) error {
	res, err := s.db.Exec(`UPDATE schedules SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set schedule active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %q: %w", id, ErrNotFound)
	}
	return nil
}

// ---------- Scanning ----------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (*Schedule, error) {
	var (
		sched     Schedule
		days      string
		active    int
		createdAt string
	)
	err := r.Scan(
		&sched.ID, &sched.CompanyID, &sched.PhoneNumber, &sched.DisplayName,
		&sched.ScriptConfig, &sched.FrequencyType, &sched.FrequencyTime,
		&days, &sched.IntervalDays, &sched.MaxAttempts,
		&sched.RetryIntervalMin, &active, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	sched.DaysOfWeek = splitDays(days)
	sched.Active = active != 0
	sched.CreatedAt = parseTime(createdAt)
	return &sched, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var result []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		result = append(result, sched)
	}
	return result, rows.Err()
}

func joinDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func splitDays(v string) []int {
	if v == "" {
		return nil
	}
	var days []int
	for _, p := range strings.Split(v, ",") {
		if d, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			days = append(days, d)
		}
	}
	return days
}
