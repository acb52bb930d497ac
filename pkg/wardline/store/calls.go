// Package store – calls.go implements outbound caller numbers and the call
// log written when the dispatcher places a call.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PhoneNumber is an outbound caller identity owned by a company.
type PhoneNumber struct {
	ID        string
	CompanyID string
	Number    string
	Active    bool
}

// CallLog records a telephony call attempt and its provider status.
type CallLog struct {
	ID        string
	ContactID string
	CallSID   string
	Direction string
	Status    string
	From      string
	To        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AddPhoneNumber registers an outbound caller number for a company.
func (s *Store) AddPhoneNumber(companyID, number string) (*PhoneNumber, error) {
	pn := &PhoneNumber{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Number:    number,
		Active:    true,
	}
	_, err := s.db.Exec(`
		INSERT INTO phone_numbers (id, company_id, number, active)
		VALUES (?, ?, ?, 1)`,
		pn.ID, pn.CompanyID, pn.Number)
	if err != nil {
		return nil, fmt.Errorf("add phone number: %w", err)
	}
	return pn, nil
}

// ActiveCallerNumber resolves the company's active outbound number.
// Returns ErrNotFound when the company has no usable caller identity.
func (s *Store) ActiveCallerNumber(companyID string) (string, error) {
	var number string
	err := s.db.QueryRow(`
		SELECT number FROM phone_numbers
		WHERE company_id = ? AND active = 1
		LIMIT 1`, companyID).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("caller number for company %q: %w", companyID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("active caller number: %w", err)
	}
	return number, nil
}

// CreateCallLog records a placed call.
func (s *Store) CreateCallLog(contactID, callSID, from, to string) (*CallLog, error) {
	now := time.Now()
	cl := &CallLog{
		ID:        uuid.NewString(),
		ContactID: contactID,
		CallSID:   callSID,
		Direction: "outbound",
		Status:    "initiated",
		From:      from,
		To:        to,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO call_logs (id, contact_id, call_sid, direction, status,
			from_num, to_num, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cl.ID, cl.ContactID, cl.CallSID, cl.Direction, cl.Status,
		cl.From, cl.To, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create call log: %w", err)
	}
	return cl, nil
}

// UpdateCallLogStatus records a provider status callback (completed, busy,
// no-answer, failed) against the call SID.
func (s *Store) UpdateCallLogStatus(callSID, status string) error {
	_, err := s.db.Exec(`
		UPDATE call_logs SET status = ?, updated_at = ? WHERE call_sid = ?`,
		status, formatTime(time.Now()), callSID)
	if err != nil {
		return fmt.Errorf("update call log status: %w", err)
	}
	return nil
}
