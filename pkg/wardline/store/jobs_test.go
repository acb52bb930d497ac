package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testSchedule(t *testing.T, st *Store) *Schedule {
	t.Helper()
	sched := &Schedule{
		CompanyID:     "acme",
		PhoneNumber:   "+15550100",
		DisplayName:   "Margaret H.",
		FrequencyType: "daily",
		FrequencyTime: "09:30",
		Active:        true,
	}
	if err := st.CreateSchedule(sched); err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}
	return sched
}

func TestClaimJobExactlyOnce(t *testing.T) {
	st := testStore(t)
	sched := testSchedule(t, st)

	job, err := st.CreateJob(sched.ID, time.Now(), 1)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	claims := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := st.ClaimJob(job.ID)
			if err != nil {
				t.Errorf("ClaimJob error: %v", err)
				return
			}
			claims <- claimed
		}()
	}
	wg.Wait()
	close(claims)

	won := 0
	for claimed := range claims {
		if claimed {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", won)
	}

	got, err := st.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != JobProcessing {
		t.Errorf("expected status processing, got %s", got.Status)
	}
}

func TestClaimJobNonPending(t *testing.T) {
	st := testStore(t)
	sched := testSchedule(t, st)

	job, _ := st.CreateJob(sched.ID, time.Now(), 1)
	if err := st.MarkJobCompleted(job.ID); err != nil {
		t.Fatalf("MarkJobCompleted failed: %v", err)
	}

	claimed, err := st.ClaimJob(job.ID)
	if err != nil {
		t.Fatalf("ClaimJob error: %v", err)
	}
	if claimed {
		t.Error("claimed a completed job")
	}
}

func TestCreateJobSecondActiveRejected(t *testing.T) {
	st := testStore(t)
	sched := testSchedule(t, st)

	job, err := st.CreateJob(sched.ID, time.Now(), 1)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if _, err := st.CreateJob(sched.ID, time.Now().Add(time.Hour), 1); !errors.Is(err, ErrActiveJobExists) {
		t.Fatalf("expected ErrActiveJobExists for a second pending job, got %v", err)
	}

	// A processing job blocks creation too.
	if _, err := st.ClaimJob(job.ID); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if _, err := st.CreateJob(sched.ID, time.Now().Add(time.Hour), 1); !errors.Is(err, ErrActiveJobExists) {
		t.Fatalf("expected ErrActiveJobExists over a processing job, got %v", err)
	}

	// Once the job finishes, the schedule can hold a new one.
	if err := st.MarkJobFailed(job.ID, "no answer"); err != nil {
		t.Fatalf("MarkJobFailed failed: %v", err)
	}
	if _, err := st.CreateJob(sched.ID, time.Now().Add(time.Hour), 1); err != nil {
		t.Fatalf("CreateJob after failure: %v", err)
	}
}

func TestDueJobs(t *testing.T) {
	st := testStore(t)
	now := time.Now().UTC()

	// One schedule per job: a schedule holds at most one active job.
	past1, _ := st.CreateJob(testSchedule(t, st).ID, now.Add(-2*time.Hour), 1)
	past2, _ := st.CreateJob(testSchedule(t, st).ID, now.Add(-1*time.Hour), 1)
	if _, err := st.CreateJob(testSchedule(t, st).ID, now.Add(time.Hour), 1); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	due, err := st.DueJobs(now, 10)
	if err != nil {
		t.Fatalf("DueJobs failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(due))
	}
	// Oldest first.
	if due[0].ID != past1.ID || due[1].ID != past2.ID {
		t.Errorf("due jobs out of order: %s, %s", due[0].ID, due[1].ID)
	}

	due, err = st.DueJobs(now, 1)
	if err != nil {
		t.Fatalf("DueJobs failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("limit ignored: got %d jobs", len(due))
	}
}

func TestActiveJobForSchedule(t *testing.T) {
	st := testStore(t)
	sched := testSchedule(t, st)

	job, err := st.ActiveJobForSchedule(sched.ID)
	if err != nil {
		t.Fatalf("ActiveJobForSchedule failed: %v", err)
	}
	if job != nil {
		t.Fatal("expected no active job")
	}

	created, _ := st.CreateJob(sched.ID, time.Now(), 1)
	job, err = st.ActiveJobForSchedule(sched.ID)
	if err != nil {
		t.Fatalf("ActiveJobForSchedule failed: %v", err)
	}
	if job == nil || job.ID != created.ID {
		t.Fatal("expected the pending job to be active")
	}

	// A processing job still counts as active.
	if _, err := st.ClaimJob(created.ID); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	job, _ = st.ActiveJobForSchedule(sched.ID)
	if job == nil {
		t.Fatal("expected the processing job to be active")
	}

	// A finished job does not.
	if err := st.MarkJobFailed(created.ID, "no answer"); err != nil {
		t.Fatalf("MarkJobFailed failed: %v", err)
	}
	job, _ = st.ActiveJobForSchedule(sched.ID)
	if job != nil {
		t.Fatal("expected no active job after failure")
	}
}

func TestRescheduleJobOnlyPending(t *testing.T) {
	st := testStore(t)
	sched := testSchedule(t, st)

	job, _ := st.CreateJob(sched.ID, time.Now(), 1)
	newRun := time.Now().Add(time.Hour).UTC()
	if err := st.RescheduleJob(job.ID, newRun); err != nil {
		t.Fatalf("RescheduleJob failed: %v", err)
	}

	got, _ := st.GetJob(job.ID)
	if got.RunAt.Unix() != newRun.Unix() {
		t.Errorf("run_at not updated: got %v want %v", got.RunAt, newRun)
	}

	// A claimed job must not move.
	if _, err := st.ClaimJob(job.ID); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if err := st.RescheduleJob(job.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound rescheduling a processing job, got %v", err)
	}
}

func TestMarkJobFailedKeepsReason(t *testing.T) {
	st := testStore(t)
	sched := testSchedule(t, st)

	job, _ := st.CreateJob(sched.ID, time.Now(), 1)
	if err := st.MarkJobFailed(job.ID, "call busy"); err != nil {
		t.Fatalf("MarkJobFailed failed: %v", err)
	}

	got, _ := st.GetJob(job.ID)
	if got.Status != JobFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.FailureReason != "call busy" {
		t.Errorf("expected failure reason %q, got %q", "call busy", got.FailureReason)
	}
}
