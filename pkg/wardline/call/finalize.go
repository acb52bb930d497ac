package call

import (
	"context"
	"os"
	"time"

	"github.com/wardlinehq/wardline/pkg/wardline/agent"
	"github.com/wardlinehq/wardline/pkg/wardline/store"
)

// Finalize tears the session down exactly once: trailing speech is flushed,
// recognition stops, recorders close and upload, the session record gets
// its terminal state, and the schedule is re-armed. Every path that ends a
// call funnels here; repeat calls are no-ops.
func (s *Session) Finalize(status store.SessionStatus) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	s.finalized = true
	s.mu.Unlock()

	s.logger.Info("finalizing session", "status", status)

	// Trailing fragments still in the buffer are persisted as a user turn;
	// the finalized flag stops a new generation from starting.
	s.agg.FlushNow()
	s.agg.Stop()

	if s.recognizer != nil {
		if err := s.recognizer.Close(); err != nil {
			s.logger.Debug("closing recognition failed", "error", err)
		}
	}

	s.uploadRecordings()

	if err := s.engine.store.EndSession(s.id, status, time.Now()); err != nil {
		s.logger.Error("ending session failed", "error", err)
	}

	s.completeJob()
	s.engine.unregister(s.streamSID)
	s.logger.Info("session finalized", "status", status)
}

// isFinalized reports whether teardown already ran.
func (s *Session) isFinalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// uploadRecordings closes both recorders, uploads their files and removes
// the temps. Upload failures are logged; the temp is still released. The
// last-known recording URLs are merged into the profile's last_state so a
// supervisor can find the audio from the contact record.
func (s *Session) uploadRecordings() {
	state := map[string]any{}
	for _, rec := range []struct {
		r        *recorder
		name     string
		stateKey string
	}{
		{s.callerRec, "caller.wav", "last_caller_recording_url"},
		{s.agentRec, "agent.wav", "last_agent_recording_url"},
	} {
		if rec.r == nil {
			continue
		}
		if err := rec.r.Close(); err != nil {
			s.logger.Warn("closing recorder failed", "name", rec.name, "error", err)
		}
		if url := s.uploadOne(rec.r, rec.name); url != "" {
			state[rec.stateKey] = url
		}
		rec.r.Remove()
	}

	if len(state) == 0 || s.contact.ID == "" {
		return
	}
	if err := s.engine.store.MergeProfileLastState(s.contact.ID, state); err != nil {
		s.logger.Warn("merging recording urls failed", "error", err)
	}
}

func (s *Session) uploadOne(rec *recorder, name string) string {
	if s.engine.recordings == nil {
		return ""
	}
	f, err := os.Open(rec.Path())
	if err != nil {
		s.logger.Warn("opening recording failed", "name", name, "error", err)
		return ""
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	url, err := s.engine.recordings.Upload(ctx, s.id, name, f)
	if err != nil {
		s.logger.Warn("uploading recording failed", "name", name, "error", err)
		return ""
	}
	s.logger.Info("recording uploaded", "name", name, "url", url)
	return url
}

// completeJob closes out the dispatched job and arms the schedule's next
// occurrence.
func (s *Session) completeJob() {
	if s.jobID == "" {
		return
	}
	if err := s.engine.store.MarkJobCompleted(s.jobID); err != nil {
		s.logger.Error("completing job failed", "job_id", s.jobID, "error", err)
	}
	if s.engine.scheduler == nil {
		return
	}
	sched, err := s.engine.store.GetSchedule(s.scheduleID)
	if err != nil {
		s.logger.Warn("loading schedule for re-arm failed", "error", err)
		return
	}
	if err := s.engine.scheduler.EnsureNextJob(sched, time.Now()); err != nil {
		s.logger.Warn("re-arming schedule failed", "error", err)
	}
}

// SpeakClosing plays a short goodbye before the call is wound down, used
// when this side ends the call. Best-effort: a failed generation falls back
// to a fixed line, and nothing here blocks finalization.
func (s *Session) SpeakClosing() {
	if s.isFinalized() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.engine.cfg.AgentTimeout)
	script, err := s.engine.agent.Closing(ctx, s.turnContext(""))
	cancel()
	if err != nil {
		s.logger.Warn("closing generation failed, using fixed line", "error", err)
		script = &agent.Script{
			Intent: "closing",
			Segments: []agent.Segment{{
				ID:                 "fallback-closing",
				Text:               "Thank you for talking with me today. Take care, and speak to you at the next check-in.",
				Tone:               "calm",
				MaxDurationSeconds: 10,
			}},
			HandoffSignal: agent.HandoffSignal{Level: agent.LevelNone},
		}
	}
	s.speak(script)
}
