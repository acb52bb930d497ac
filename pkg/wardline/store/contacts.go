// Package store – contacts.go implements contacts, contact profiles and the
// rolling memory summary. Profile last_state is merged key-by-key on update,
// never replaced wholesale.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Contact is a callee identity scoped to a company.
type Contact struct {
	ID          string
	CompanyID   string
	PhoneNumber string
	Name        string
	CreatedAt   time.Time
}

// Profile holds per-contact conversational preferences and state.
type Profile struct {
	ContactID     string
	PreferredName string
	Locale        string
	RiskFlags     map[string]bool
	Goals         []string
	Tone          string
	LastState     map[string]any
	UpdatedAt     time.Time
}

// ResolveContact finds the contact for (company, phone) or creates it.
func (s *Store) ResolveContact(companyID, phoneNumber, name string) (*Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, company_id, phone_number, name, created_at
		FROM contacts WHERE company_id = ? AND phone_number = ?`,
		companyID, phoneNumber)

	var (
		c         Contact
		createdAt string
	)
	err := row.Scan(&c.ID, &c.CompanyID, &c.PhoneNumber, &c.Name, &createdAt)
	if err == nil {
		c.CreatedAt = parseTime(createdAt)
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolve contact: %w", err)
	}

	c = Contact{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		PhoneNumber: phoneNumber,
		Name:        name,
		CreatedAt:   time.Now(),
	}
	_, err = s.db.Exec(`
		INSERT INTO contacts (id, company_id, phone_number, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(company_id, phone_number) DO NOTHING`,
		c.ID, c.CompanyID, c.PhoneNumber, c.Name, formatTime(c.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	// Re-read in case a concurrent insert won the conflict.
	return s.ResolveContact(companyID, phoneNumber, name)
}

// GetProfile loads the contact profile. Returns ErrNotFound if absent.
func (s *Store) GetProfile(contactID string) (*Profile, error) {
	row := s.db.QueryRow(`
		SELECT contact_id, preferred_name, locale, risk_flags, goals, tone,
		       last_state, updated_at
		FROM profiles WHERE contact_id = ?`, contactID)

	var (
		p         Profile
		riskFlags string
		goals     string
		lastState string
		updatedAt string
	)
	err := row.Scan(&p.ContactID, &p.PreferredName, &p.Locale,
		&riskFlags, &goals, &p.Tone, &lastState, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", contactID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	p.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(riskFlags), &p.RiskFlags); err != nil {
		p.RiskFlags = map[string]bool{}
	}
	if err := json.Unmarshal([]byte(goals), &p.Goals); err != nil {
		p.Goals = nil
	}
	if err := json.Unmarshal([]byte(lastState), &p.LastState); err != nil {
		p.LastState = map[string]any{}
	}
	return &p, nil
}

// UpsertProfile creates or replaces the profile fields (except last_state,
// which only MergeProfileLastState touches once it exists).
func (s *Store) UpsertProfile(p *Profile) error {
	if p.Locale == "" {
		p.Locale = "en-US"
	}
	if p.Tone == "" {
		p.Tone = "warm"
	}
	riskFlags, _ := json.Marshal(orEmptyFlags(p.RiskFlags))
	goals, _ := json.Marshal(orEmptyGoals(p.Goals))
	lastState, _ := json.Marshal(orEmptyState(p.LastState))

	_, err := s.db.Exec(`
		INSERT INTO profiles (contact_id, preferred_name, locale, risk_flags,
			goals, tone, last_state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			preferred_name = excluded.preferred_name,
			locale = excluded.locale,
			risk_flags = excluded.risk_flags,
			goals = excluded.goals,
			tone = excluded.tone,
			updated_at = excluded.updated_at`,
		p.ContactID, p.PreferredName, p.Locale, string(riskFlags),
		string(goals), p.Tone, string(lastState), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// MergeProfileLastState merges the given keys into the profile's last_state
// blob, preserving keys not mentioned in the update.
func (s *Store) MergeProfileLastState(contactID string, update map[string]any) error {
	p, err := s.GetProfile(contactID)
	if err != nil {
		return err
	}
	state := p.LastState
	if state == nil {
		state = map[string]any{}
	}
	for k, v := range update {
		state[k] = v
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal last_state: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE profiles SET last_state = ?, updated_at = ? WHERE contact_id = ?`,
		string(data), formatTime(time.Now()), contactID)
	if err != nil {
		return fmt.Errorf("merge last_state: %w", err)
	}
	return nil
}

// GetMemorySummary returns the rolling memory summary for a contact, or ""
// when none has been written yet.
func (s *Store) GetMemorySummary(contactID string) (string, error) {
	var summary string
	err := s.db.QueryRow(`
		SELECT summary FROM memory_summaries WHERE contact_id = ?`,
		contactID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get memory summary: %w", err)
	}
	return summary, nil
}

// SetMemorySummary replaces the rolling memory summary for a contact.
func (s *Store) SetMemorySummary(contactID, summary string) error {
	_, err := s.db.Exec(`
		INSERT INTO memory_summaries (contact_id, summary, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			summary = excluded.summary, updated_at = excluded.updated_at`,
		contactID, summary, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set memory summary: %w", err)
	}
	return nil
}

func orEmptyFlags(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}

func orEmptyGoals(g []string) []string {
	if g == nil {
		return []string{}
	}
	return g
}

func orEmptyState(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
