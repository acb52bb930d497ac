package store

import (
	"sync"
	"testing"
	"time"
)

func testSession(t *testing.T, st *Store) *Session {
	t.Helper()
	sched := testSchedule(t, st)
	contact, err := st.ResolveContact(sched.CompanyID, sched.PhoneNumber, sched.DisplayName)
	if err != nil {
		t.Fatalf("ResolveContact failed: %v", err)
	}
	sess := &Session{
		ScheduleID: sched.ID,
		CallID:     "CA123",
		ContactID:  contact.ID,
		Status:     SessionActive,
	}
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return sess
}

func TestEndSessionIdempotent(t *testing.T) {
	st := testStore(t)
	sess := testSession(t, st)

	first := time.Now().UTC()
	if err := st.EndSession(sess.ID, SessionCompleted, first); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	// A second end must not overwrite the first outcome.
	if err := st.EndSession(sess.ID, SessionFailed, first.Add(time.Minute)); err != nil {
		t.Fatalf("second EndSession errored: %v", err)
	}

	got, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != SessionCompleted {
		t.Errorf("expected status completed, got %s", got.Status)
	}
	if got.EndedAt == nil || got.EndedAt.Unix() != first.Unix() {
		t.Errorf("ended_at overwritten: got %v want %v", got.EndedAt, first)
	}
}

func TestAppendTurnSequencing(t *testing.T) {
	st := testStore(t)
	sess := testSession(t, st)

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.AppendTurn(sess.ID, "user", "hello", ""); err != nil {
				t.Errorf("AppendTurn failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := st.RecentTurns(sess.ID, turns*2)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(got) != turns {
		t.Fatalf("expected %d turns, got %d", turns, len(got))
	}

	seen := make(map[int]bool)
	for _, turn := range got {
		if seen[turn.Seq] {
			t.Fatalf("duplicate seq %d", turn.Seq)
		}
		seen[turn.Seq] = true
	}
}

func TestRecentTurnsOrderAndLimit(t *testing.T) {
	st := testStore(t)
	sess := testSession(t, st)

	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		if _, err := st.AppendTurn(sess.ID, "user", c, ""); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	got, err := st.RecentTurns(sess.ID, 2)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	// Most recent last, in conversation order.
	if got[0].Content != "three" || got[1].Content != "four" {
		t.Errorf("unexpected window: %q, %q", got[0].Content, got[1].Content)
	}
}

func TestUpdateSessionRiskAndSummary(t *testing.T) {
	st := testStore(t)
	sess := testSession(t, st)

	if err := st.UpdateSessionRisk(sess.ID, "high"); err != nil {
		t.Fatalf("UpdateSessionRisk failed: %v", err)
	}
	if err := st.UpdateSessionSummary(sess.ID, "short call", "mentioned a fall"); err != nil {
		t.Fatalf("UpdateSessionSummary failed: %v", err)
	}

	got, _ := st.GetSession(sess.ID)
	if got.RiskLevel != "high" {
		t.Errorf("risk level: got %q", got.RiskLevel)
	}
	if got.Summary != "short call" || got.Notes != "mentioned a fall" {
		t.Errorf("summary/notes: got %q / %q", got.Summary, got.Notes)
	}
}
