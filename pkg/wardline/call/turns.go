package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/wardlinehq/wardline/pkg/wardline/agent"
	"github.com/wardlinehq/wardline/pkg/wardline/telephony"
)

// generateTurn runs one full conversation turn for a flushed utterance.
// Runs on the turn gate's goroutine, one at a time per session. Failures
// skip the turn; the call stays up and waits for the next utterance.
func (s *Session) generateTurn(utterance string) {
	start := time.Now()
	logger := s.logger.With("utterance_len", len(utterance))

	if _, err := s.engine.store.AppendTurn(s.id, "user", utterance, ""); err != nil {
		logger.Error("persisting user turn failed", "error", err)
	}

	// A flush during teardown still persists the trailing speech above, but
	// no new generation starts once the session is finalized.
	if s.isFinalized() {
		return
	}

	s.rememberChunk(utterance)
	notes := s.recallMemory(utterance)

	tc := s.turnContext(utterance)
	tc.MemoryNotes = notes

	ctx, cancel := context.WithTimeout(context.Background(), s.engine.cfg.AgentTimeout)
	script, err := s.engine.agent.Followup(ctx, tc)
	cancel()
	if err != nil {
		logger.Warn("turn abandoned", "error", err, "duration_ms", elapsedSince(start))
		return
	}

	s.recordHandoff(script)
	s.speak(script)
	s.rememberChunk(scriptText(script))
	s.updateRunningState(utterance, script)

	logger.Info("turn completed",
		"segments", len(script.Segments),
		"handoff_level", script.HandoffSignal.Level,
		"duration_ms", elapsedSince(start),
	)
}

// rememberChunk stores one side of an exchange as a long-term memory chunk.
// Both the caller's utterance and the spoken reply land here. Best-effort;
// memory never blocks the conversation.
func (s *Session) rememberChunk(text string) {
	if s.engine.chunks == nil || s.contact.ID == "" || text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.engine.cfg.MemoryTimeout)
	defer cancel()
	if err := s.engine.chunks.Remember(ctx, s.contact.ID, text, 0.5); err != nil {
		s.logger.Warn("storing memory chunk failed", "error", err)
	}
}

// scriptText joins a script's segments into one utterance-like string.
func scriptText(script *agent.Script) string {
	parts := make([]string, 0, len(script.Segments))
	for _, seg := range script.Segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// recallMemory retrieves memory fragments relevant to the utterance.
func (s *Session) recallMemory(utterance string) []string {
	if s.engine.chunks == nil || s.contact.ID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.engine.cfg.MemoryTimeout)
	defer cancel()

	hits, err := s.engine.chunks.Retrieve(ctx, s.contact.ID, utterance, 3, 0.3)
	if err != nil {
		s.logger.Warn("memory retrieval failed", "error", err)
		return nil
	}
	notes := make([]string, 0, len(hits))
	for _, h := range hits {
		notes = append(notes, h.Text)
	}
	return notes
}

// recordHandoff persists the safety assessment of a script. Levels above
// none escalate the session risk; supervisor notes land on the session
// record. The level-to-action mapping is fixed: none continues, monitor
// offers a trusted contact, handoff brings in a human, emergency suggests
// emergency services; the script text itself carries that action.
func (s *Session) recordHandoff(script *agent.Script) {
	sig := script.HandoffSignal
	if sig.Level != agent.LevelNone {
		s.logger.Warn("handoff signal raised",
			"level", sig.Level,
			"reasons", sig.Reasons,
			"next_step", sig.RecommendedNextStep,
		)
		risk := riskForLevel(sig.Level)
		s.mu.Lock()
		s.riskLevel = risk
		s.mu.Unlock()
		if err := s.engine.store.UpdateSessionRisk(s.id, risk); err != nil {
			s.logger.Error("updating session risk failed", "error", err)
		}
	}
	if script.NotesForHumanSupervisor != nil && *script.NotesForHumanSupervisor != "" {
		s.mu.Lock()
		summary := s.summary
		s.mu.Unlock()
		if err := s.engine.store.UpdateSessionSummary(s.id, summary, *script.NotesForHumanSupervisor); err != nil {
			s.logger.Error("updating supervisor notes failed", "error", err)
		}
	}
}

// riskForLevel maps a handoff level to the session risk label.
func riskForLevel(level agent.HandoffLevel) string {
	switch level {
	case agent.LevelEmergency:
		return "critical"
	case agent.LevelHandoff:
		return "high"
	case agent.LevelMonitor:
		return "medium"
	default:
		return "low"
	}
}

// speak plays a script to the caller: any queued playback is cleared first
// so new speech can cut in over stale audio, then segments play in order.
// A segment that fails synthesis is skipped and the rest still play.
func (s *Session) speak(script *agent.Script) {
	if err := s.send(telephony.NewClearMessage(s.streamSID)); err != nil {
		s.logger.Debug("clearing playback failed", "error", err)
	}

	for _, seg := range script.Segments {
		s.persistAssistantTurn(script.Intent, seg)

		ctx, cancel := context.WithTimeout(context.Background(), s.engine.cfg.TTSTimeout)
		pcm, err := s.engine.tts.Synthesize(ctx, seg.Text, s.engine.cfg.Voice)
		cancel()
		if err != nil {
			s.logger.Warn("segment synthesis failed, skipping",
				"segment_id", seg.ID,
				"error", err,
			)
			continue
		}

		mulaw := telephony.TranscodePCM24kToMulaw(pcm)
		if s.agentRec != nil {
			s.agentRec.Write(mulaw)
		}

		payload := base64.StdEncoding.EncodeToString(mulaw)
		if err := s.send(telephony.NewMediaMessage(s.streamSID, payload)); err != nil {
			s.logger.Warn("sending audio failed", "segment_id", seg.ID, "error", err)
			return
		}
	}
}

// persistAssistantTurn appends one assistant turn per spoken segment.
func (s *Session) persistAssistantTurn(intent string, seg agent.Segment) {
	meta, _ := json.Marshal(map[string]any{
		"intent":     intent,
		"segment_id": seg.ID,
		"tone":       seg.Tone,
	})
	if _, err := s.engine.store.AppendTurn(s.id, "assistant", seg.Text, string(meta)); err != nil {
		s.logger.Error("persisting assistant turn failed", "error", err)
	}
}

// updateRunningState refreshes the rolling summary and the profile's last
// known state after a completed turn. All best-effort.
func (s *Session) updateRunningState(utterance string, script *agent.Script) {
	reply := ""
	if len(script.Segments) > 0 {
		reply = script.Segments[0].Text
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.engine.cfg.AgentTimeout)
	summary, err := s.engine.agent.Summarize(ctx, s.currentSummary(), utterance, reply)
	cancel()
	if err != nil {
		s.logger.Warn("summary update failed", "error", err)
	} else {
		s.mu.Lock()
		s.summary = summary
		s.mu.Unlock()
		if s.contact.ID != "" {
			if err := s.engine.store.SetMemorySummary(s.contact.ID, summary); err != nil {
				s.logger.Warn("persisting memory summary failed", "error", err)
			}
		}
	}

	if s.contact.ID == "" {
		return
	}
	state := map[string]any{
		"last_checkin_at":     time.Now().UTC().Format(time.RFC3339),
		"last_user_utterance": utterance,
		"last_intent":         script.Intent,
		"last_risk":           string(script.HandoffSignal.Level),
	}
	if err := s.engine.store.MergeProfileLastState(s.contact.ID, state); err != nil {
		s.logger.Warn("merging profile state failed", "error", err)
	}
}

func (s *Session) currentSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}
