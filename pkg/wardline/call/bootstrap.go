package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardlinehq/wardline/pkg/wardline/agent"
	"github.com/wardlinehq/wardline/pkg/wardline/store"
	"github.com/wardlinehq/wardline/pkg/wardline/telephony"
)

// StartSession bootstraps a call when its media stream opens: contact and
// profile are resolved, rolling memory is loaded, the session record is
// created, recognition starts, and the opening line is spoken. Store-side
// resolution failures degrade rather than drop the call: the session runs
// on a minimal default profile and the fixed safe greeting. Only a stream
// start without a schedule reference, or a recognizer that will not start,
// is fatal.
func (e *Engine) StartSession(ctx context.Context, start *telephony.StartPayload, send func(telephony.StreamMessage) error) (*Session, error) {
	scheduleID := start.CustomParameters["scheduleId"]
	jobID := start.CustomParameters["jobId"]
	if scheduleID == "" {
		return nil, fmt.Errorf("call: stream start missing scheduleId")
	}

	var (
		contact  *store.Contact
		profile  *store.Profile
		degraded bool
	)
	sched, err := e.store.GetSchedule(scheduleID)
	if err != nil {
		e.logger.Warn("loading schedule failed, continuing degraded", "schedule_id", scheduleID, "error", err)
		degraded = true
	}
	if !degraded {
		contact, err = e.store.ResolveContact(sched.CompanyID, sched.PhoneNumber, sched.DisplayName)
		if err != nil {
			e.logger.Warn("resolving contact failed, continuing degraded", "error", err)
			degraded = true
		}
	}
	if !degraded {
		profile, err = e.loadOrCreateProfile(contact)
		if err != nil {
			e.logger.Warn("loading profile failed, continuing degraded", "error", err)
			degraded = true
		}
	}
	if degraded {
		if contact == nil {
			contact = &store.Contact{}
		}
		profile = &store.Profile{
			ContactID: contact.ID,
			Locale:    "en-US",
			Tone:      "warm, calm",
		}
	}

	var summary string
	if contact.ID != "" {
		summary, err = e.store.GetMemorySummary(contact.ID)
		if err != nil {
			e.logger.Warn("loading memory summary failed", "contact_id", contact.ID, "error", err)
		}
	}

	record := &store.Session{
		ScheduleID: scheduleID,
		JobID:      jobID,
		CallID:     start.CallSID,
		ContactID:  contact.ID,
		Status:     store.SessionActive,
	}
	if err := e.store.CreateSession(record); err != nil {
		// Turn and state writes will fail too and are all best-effort; the
		// conversation itself still runs.
		e.logger.Warn("creating session record failed, continuing degraded", "error", err)
		degraded = true
	}

	s := &Session{
		engine:     e,
		logger:     e.logger.With("session_id", record.ID, "call_sid", start.CallSID),
		id:         record.ID,
		streamSID:  start.StreamSID,
		callSID:    start.CallSID,
		scheduleID: scheduleID,
		jobID:      jobID,
		contact:    contact,
		profile:    profile,
		send:       send,
		summary:    summary,
		riskLevel:  riskLevelFromFlags(profile.RiskFlags),
		degraded:   degraded,
	}
	s.gate = newTurnGate(s.generateTurn)
	s.agg = NewAggregator(e.cfg.Debounce, s.gate.Submit)

	if e.cfg.RecordCalls {
		s.openRecorders()
	}

	recognizer, err := e.stt.StartSession(ctx)
	if err != nil {
		// The call can still run one-directionally; without recognition it
		// cannot, so this one is fatal.
		s.closeRecorders()
		return nil, fmt.Errorf("call: starting recognition: %w", err)
	}
	s.recognizer = recognizer
	go s.pumpTranscripts()

	e.register(s)
	s.logger.Info("session started",
		"schedule_id", scheduleID,
		"job_id", jobID,
		"contact_id", contact.ID,
	)

	go s.speakOpening()
	return s, nil
}

// loadOrCreateProfile returns the contact profile, creating defaults on
// first contact.
func (e *Engine) loadOrCreateProfile(contact *store.Contact) (*store.Profile, error) {
	profile, err := e.store.GetProfile(contact.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("call: loading profile: %w", err)
	}

	profile = &store.Profile{
		ContactID:     contact.ID,
		PreferredName: contact.Name,
		Locale:        "en-US",
		Tone:          "warm, calm",
	}
	if err := e.store.UpsertProfile(profile); err != nil {
		return nil, fmt.Errorf("call: creating profile: %w", err)
	}
	return profile, nil
}

// pumpTranscripts drains recognition events into the aggregator. Interim
// fragments are ignored; only committed text enters the utterance buffer.
func (s *Session) pumpTranscripts() {
	for t := range s.recognizer.Transcripts() {
		if !t.Final {
			continue
		}
		s.agg.Add(t.Text)
	}
}

// speakOpening plans and speaks the greeting.
func (s *Session) speakOpening() {
	if s.degraded {
		// Nothing to plan from; open with the fixed safe greeting.
		s.speak(fallbackGreeting(s.profile.PreferredName))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.engine.cfg.AgentTimeout)
	defer cancel()

	script, err := s.engine.agent.Opening(ctx, s.turnContext(""))
	if err != nil {
		s.logger.Warn("opening generation failed, using fallback greeting", "error", err)
		script = fallbackGreeting(s.profile.PreferredName)
	}

	s.recordHandoff(script)
	s.speak(script)
}

// fallbackGreeting is the fixed safe opening used when generation fails.
func fallbackGreeting(name string) *agent.Script {
	text := "Hello! This is your scheduled check-in call. How are you doing today?"
	if name != "" {
		text = fmt.Sprintf("Hello %s! This is your scheduled check-in call. How are you doing today?", name)
	}
	return &agent.Script{
		Intent: "opening",
		Segments: []agent.Segment{{
			ID:                 "fallback-greeting",
			Text:               text,
			Tone:               "calm",
			MaxDurationSeconds: 10,
		}},
		HandoffSignal: agent.HandoffSignal{Level: agent.LevelNone},
	}
}

// riskLevelFromFlags collapses profile risk flags to a coarse level.
func riskLevelFromFlags(flags map[string]bool) string {
	switch {
	case flags["high_risk"]:
		return "high"
	case flags["medium_risk"]:
		return "medium"
	default:
		return "low"
	}
}

// openRecorders opens the per-direction audio recorders. Recording is
// best-effort: a failure logs and disables that direction.
func (s *Session) openRecorders() {
	var err error
	s.callerRec, err = newRecorder(s.engine.cfg.TempDir, "caller-*.wav")
	if err != nil {
		s.logger.Warn("caller recorder unavailable", "error", err)
	}
	s.agentRec, err = newRecorder(s.engine.cfg.TempDir, "agent-*.wav")
	if err != nil {
		s.logger.Warn("agent recorder unavailable", "error", err)
	}
}

func (s *Session) closeRecorders() {
	if s.callerRec != nil {
		s.callerRec.Close()
		s.callerRec.Remove()
	}
	if s.agentRec != nil {
		s.agentRec.Close()
		s.agentRec.Remove()
	}
}

// HandleMedia forwards one inbound µ-law frame to recognition and the
// caller recorder.
func (s *Session) HandleMedia(audio []byte) {
	if s.callerRec != nil {
		s.callerRec.Write(audio)
	}
	if err := s.recognizer.SendAudio(audio); err != nil {
		s.logger.Debug("forwarding audio failed", "error", err)
	}
}

// turnContext snapshots the agent context for the next turn.
func (s *Session) turnContext(utterance string) agent.TurnContext {
	s.mu.Lock()
	summary := s.summary
	risk := s.riskLevel
	s.mu.Unlock()

	tc := agent.TurnContext{
		PreferredName: s.profile.PreferredName,
		Locale:        s.profile.Locale,
		RiskLevel:     risk,
		Tone:          s.profile.Tone,
		Goals:         s.profile.Goals,
		Summary:       summary,
		LastUtterance: utterance,
	}

	turns, err := s.engine.store.RecentTurns(s.id, 40)
	if err != nil {
		s.logger.Warn("loading recent turns failed", "error", err)
		return tc
	}
	for _, t := range turns {
		tc.RecentTurns = append(tc.RecentTurns, t.Role+": "+t.Content)
	}
	return tc
}

// elapsedSince is a small helper for duration logging.
func elapsedSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
