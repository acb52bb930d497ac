// Package store implements persistence for Wardline on SQLite: schedules,
// jobs, call sessions, turns, contacts, profiles, caller numbers, call logs
// and rolling memory summaries. All timestamps are stored as UTC RFC3339.
//
// The one correctness-critical operation is ClaimJob: a conditional status
// transition executed in a single UPDATE so concurrent dispatcher instances
// can never both claim the same job.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// Store provides typed read/write access to the Wardline database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the Wardline SQLite database and runs migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying database for collaborators that share it
// (e.g. the memory chunk store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the required tables and indices.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schedules (
			id               TEXT PRIMARY KEY,
			company_id       TEXT NOT NULL,
			phone_number     TEXT NOT NULL,
			display_name     TEXT NOT NULL DEFAULT '',
			script_config    TEXT NOT NULL DEFAULT '{}',
			frequency_type   TEXT NOT NULL DEFAULT 'daily',
			frequency_time   TEXT NOT NULL,
			days_of_week     TEXT NOT NULL DEFAULT '',
			interval_days    INTEGER NOT NULL DEFAULT 0,
			max_attempts     INTEGER NOT NULL DEFAULT 1,
			retry_interval_m INTEGER NOT NULL DEFAULT 0,
			active           INTEGER NOT NULL DEFAULT 1,
			created_at       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id             TEXT PRIMARY KEY,
			schedule_id    TEXT NOT NULL REFERENCES schedules(id),
			run_at         TEXT NOT NULL,
			attempt        INTEGER NOT NULL DEFAULT 1,
			status         TEXT NOT NULL DEFAULT 'pending',
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_due
			ON jobs(status, run_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_schedule
			ON jobs(schedule_id, status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active
			ON jobs(schedule_id) WHERE status IN ('pending', 'processing');

		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			schedule_id TEXT NOT NULL DEFAULT '',
			job_id      TEXT NOT NULL DEFAULT '',
			call_id     TEXT NOT NULL DEFAULT '',
			contact_id  TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			ended_at    TEXT,
			status      TEXT NOT NULL DEFAULT 'active',
			risk_level  TEXT NOT NULL DEFAULT 'low',
			summary     TEXT NOT NULL DEFAULT '',
			notes       TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS turns (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			seq        INTEGER NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			UNIQUE(session_id, seq)
		);

		CREATE TABLE IF NOT EXISTS contacts (
			id           TEXT PRIMARY KEY,
			company_id   TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			name         TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			UNIQUE(company_id, phone_number)
		);

		CREATE TABLE IF NOT EXISTS profiles (
			contact_id     TEXT PRIMARY KEY REFERENCES contacts(id),
			preferred_name TEXT NOT NULL DEFAULT '',
			locale         TEXT NOT NULL DEFAULT 'en-US',
			risk_flags     TEXT NOT NULL DEFAULT '{}',
			goals          TEXT NOT NULL DEFAULT '[]',
			tone           TEXT NOT NULL DEFAULT 'warm',
			last_state     TEXT NOT NULL DEFAULT '{}',
			updated_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS phone_numbers (
			id         TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			number     TEXT NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS call_logs (
			id         TEXT PRIMARY KEY,
			contact_id TEXT NOT NULL DEFAULT '',
			call_sid   TEXT NOT NULL DEFAULT '',
			direction  TEXT NOT NULL DEFAULT 'outbound',
			status     TEXT NOT NULL DEFAULT 'initiated',
			from_num   TEXT NOT NULL DEFAULT '',
			to_num     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_call_logs_sid ON call_logs(call_sid);

		CREATE TABLE IF NOT EXISTS memory_summaries (
			contact_id TEXT PRIMARY KEY,
			summary    TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ---------- Time Helpers ----------

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, v)
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
