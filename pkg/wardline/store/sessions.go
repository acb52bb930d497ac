// Package store – sessions.go implements call sessions and their append-only
// turn log. Turn sequence numbers are assigned inside the INSERT so they stay
// strictly increasing per session without a read-modify-write race.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the terminal (or active) state of a call session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionUserHungUp SessionStatus = "user_hung_up"
	SessionFailed     SessionStatus = "failed"
)

// Session is one live or finished reassurance call.
type Session struct {
	ID         string
	ScheduleID string
	JobID      string
	CallID     string
	ContactID  string
	StartedAt  time.Time
	EndedAt    *time.Time
	Status     SessionStatus
	RiskLevel  string
	Summary    string
	Notes      string
}

// Turn is one side of a conversation exchange.
type Turn struct {
	ID        string
	SessionID string
	Seq       int
	Role      string // "user" or "assistant"
	Content   string
	Metadata  string // JSON blob
	CreatedAt time.Time
}

// CreateSession inserts a new active session.
func (s *Store) CreateSession(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.Status == "" {
		sess.Status = SessionActive
	}
	if sess.RiskLevel == "" {
		sess.RiskLevel = "low"
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, schedule_id, job_id, call_id, contact_id,
			started_at, status, risk_level, summary, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ScheduleID, sess.JobID, sess.CallID, sess.ContactID,
		formatTime(sess.StartedAt), string(sess.Status), sess.RiskLevel,
		sess.Summary, sess.Notes,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession loads one session by ID.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, schedule_id, job_id, call_id, contact_id, started_at,
		       ended_at, status, risk_level, summary, notes
		FROM sessions WHERE id = ?`, id)

	var (
		sess      Session
		startedAt string
		endedAt   sql.NullString
		status    string
	)
	err := row.Scan(&sess.ID, &sess.ScheduleID, &sess.JobID, &sess.CallID,
		&sess.ContactID, &startedAt, &endedAt, &status,
		&sess.RiskLevel, &sess.Summary, &sess.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.StartedAt = parseTime(startedAt)
	sess.Status = SessionStatus(status)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// EndSession records the terminal status and end time exactly once; a
// session that already has ended_at set is left untouched.
func (s *Store) EndSession(id string, status SessionStatus, endedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET status = ?, ended_at = ?
		WHERE id = ? AND ended_at IS NULL`,
		string(status), formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("end session %q: %w", id, err)
	}
	return nil
}

// UpdateSessionRisk raises or lowers the session's risk level.
func (s *Store) UpdateSessionRisk(id, riskLevel string) error {
	_, err := s.db.Exec(`UPDATE sessions SET risk_level = ? WHERE id = ?`, riskLevel, id)
	if err != nil {
		return fmt.Errorf("update session risk: %w", err)
	}
	return nil
}

// UpdateSessionSummary replaces the AI summary and supervisor notes.
func (s *Store) UpdateSessionSummary(id, summary, notes string) error {
	_, err := s.db.Exec(`UPDATE sessions SET summary = ?, notes = ? WHERE id = ?`, summary, notes, id)
	if err != nil {
		return fmt.Errorf("update session summary: %w", err)
	}
	return nil
}

// AppendTurn appends one turn with the next sequence number for the session.
func (s *Store) AppendTurn(sessionID, role, content, metadata string) (*Turn, error) {
	if metadata == "" {
		metadata = "{}"
	}
	turn := &Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	// Sequence assignment happens inside the INSERT so concurrent appends
	// cannot produce duplicates (the UNIQUE constraint backs this up).
	err := s.db.QueryRow(`
		INSERT INTO turns (id, session_id, seq, role, content, metadata, created_at)
		SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
		FROM turns WHERE session_id = ?
		RETURNING seq`,
		turn.ID, sessionID, role, content, metadata,
		formatTime(turn.CreatedAt), sessionID,
	).Scan(&turn.Seq)
	if err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	return turn, nil
}

// RecentTurns returns the last limit turns of a session in chronological
// order (oldest first).
func (s *Store) RecentTurns(sessionID string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = 40
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, seq, role, content, metadata, created_at
		FROM (
			SELECT * FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var (
			t         Turn
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Role,
			&t.Content, &t.Metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}
