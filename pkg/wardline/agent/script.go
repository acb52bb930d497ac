package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ---------- Script Schema ----------

// HandoffLevel grades how urgently a human should take over the call.
type HandoffLevel string

const (
	LevelNone      HandoffLevel = "none"      // continue normally
	LevelMonitor   HandoffLevel = "monitor"   // offer to loop in a trusted contact
	LevelHandoff   HandoffLevel = "handoff"   // hand off to a human supervisor
	LevelEmergency HandoffLevel = "emergency" // suggest emergency services
)

// Valid reports whether the level is one of the four defined grades.
func (l HandoffLevel) Valid() bool {
	switch l {
	case LevelNone, LevelMonitor, LevelHandoff, LevelEmergency:
		return true
	}
	return false
}

// HandoffSignal is the safety assessment attached to every script.
type HandoffSignal struct {
	Level               HandoffLevel `json:"level"`
	Detected            bool         `json:"detected"`
	Reasons             []string     `json:"reasons"`
	QuotedTriggers      []string     `json:"quotedTriggers"`
	RecommendedNextStep string       `json:"recommendedNextStep"`
}

// Segment is one spoken unit of a script, 1-2 sentences of voice-safe text.
type Segment struct {
	ID                 string  `json:"id"`
	Text               string  `json:"text"`
	Tone               string  `json:"tone"`
	MaxDurationSeconds float64 `json:"maxDurationSeconds"`
}

// Script is the agent's structured plan for one spoken turn.
type Script struct {
	Intent                  string        `json:"intent"`
	Segments                []Segment     `json:"segments"`
	NotesForHumanSupervisor *string       `json:"notesForHumanSupervisor"`
	HandoffSignal           HandoffSignal `json:"handoffSignal"`
}

// maxSegments caps a single turn at three spoken segments.
const maxSegments = 3

// Validate checks the script against the schema contract. Empty or
// malformed output is an error, never a silent empty turn.
func (s *Script) Validate() error {
	if len(s.Segments) == 0 {
		return fmt.Errorf("agent: script has no segments")
	}
	if len(s.Segments) > maxSegments {
		return fmt.Errorf("agent: script has %d segments, max %d", len(s.Segments), maxSegments)
	}
	for i, seg := range s.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			return fmt.Errorf("agent: segment %d has empty text", i)
		}
	}
	if !s.HandoffSignal.Level.Valid() {
		return fmt.Errorf("agent: invalid handoff level %q", s.HandoffSignal.Level)
	}
	return nil
}

// ---------- Turn Context ----------

// TurnContext carries everything the agent needs to plan a turn.
type TurnContext struct {
	// PreferredName is how the callee likes to be addressed.
	PreferredName string

	// Locale is the callee's language/region tag (e.g. "en-US").
	Locale string

	// RiskLevel summarizes the profile risk flags ("low", "medium", "high").
	RiskLevel string

	// Tone is the preferred conversational tone from the profile.
	Tone string

	// Goals are the check-in goals configured for this contact.
	Goals []string

	// Summary is the rolling plain-text summary of the conversation so far.
	Summary string

	// RecentTurns holds the last few exchanges, oldest first, each line
	// prefixed with the speaker role.
	RecentTurns []string

	// MemoryNotes are retrieved long-term memory fragments relevant to the
	// latest utterance.
	MemoryNotes []string

	// LastUtterance is the coalesced caller speech being responded to.
	// Empty for opening and closing turns.
	LastUtterance string
}

// ---------- Operations ----------

// Opening plans the greeting spoken when the call connects.
func (c *Client) Opening(ctx context.Context, tc TurnContext) (*Script, error) {
	return c.plan(ctx, tc, "opening",
		"Open the check-in call. Greet the person warmly by their preferred "+
			"name, identify yourself as their scheduled check-in call, and ask "+
			"an open question about how they are doing today.")
}

// Followup plans the response to the caller's latest utterance.
func (c *Client) Followup(ctx context.Context, tc TurnContext) (*Script, error) {
	if strings.TrimSpace(tc.LastUtterance) == "" {
		return nil, fmt.Errorf("agent: followup requires an utterance")
	}
	return c.plan(ctx, tc, "followup",
		"Respond to what the person just said. Acknowledge it, follow up "+
			"naturally, and keep the conversation grounded in their wellbeing "+
			"and the configured goals.")
}

// Closing plans a short goodbye before the call is wound down. Callers treat
// failures as best-effort and never block teardown on this.
func (c *Client) Closing(ctx context.Context, tc TurnContext) (*Script, error) {
	return c.plan(ctx, tc, "closing",
		"Wind the call down. Thank the person for talking, give one short "+
			"warm goodbye, and remind them when the next check-in happens if "+
			"the context mentions it.")
}

// plan runs one structured turn generation and validates the result.
func (c *Client) plan(ctx context.Context, tc TurnContext, op, instruction string) (*Script, error) {
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt(tc)},
		{Role: "user", Content: userPrompt(tc, op, instruction)},
	}

	content, err := c.complete(ctx, messages, true)
	if err != nil {
		return nil, fmt.Errorf("agent: %s generation: %w", op, err)
	}

	var script Script
	if err := json.Unmarshal([]byte(stripFences(content)), &script); err != nil {
		return nil, fmt.Errorf("agent: %s output is not valid JSON: %w", op, err)
	}
	if script.Intent == "" {
		script.Intent = op
	}
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("agent: %s output rejected: %w", op, err)
	}

	c.logger.Info("turn planned",
		"op", op,
		"segments", len(script.Segments),
		"handoff_level", script.HandoffSignal.Level,
	)
	return &script, nil
}

// Summarize folds the latest exchange into the running plain-text summary.
func (c *Client) Summarize(ctx context.Context, previous, utterance, reply string) (string, error) {
	var b strings.Builder
	b.WriteString("Update the running summary of a phone check-in call. ")
	b.WriteString("Return only the new summary as plain text, at most 80 words.\n\n")
	if previous != "" {
		b.WriteString("Current summary: " + previous + "\n")
	}
	b.WriteString("Caller said: " + utterance + "\n")
	b.WriteString("Assistant replied: " + reply + "\n")

	messages := []chatMessage{
		{Role: "system", Content: "You maintain concise factual summaries of wellbeing check-in calls."},
		{Role: "user", Content: b.String()},
	}
	out, err := c.complete(ctx, messages, false)
	if err != nil {
		return "", fmt.Errorf("agent: summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ---------- Prompt Building ----------

// systemPrompt describes the agent's role, the response schema, and the
// safety policy. The handoff policy is deliberately conservative: emergency
// is reserved for credible imminent-danger language, and the agent must not
// invent phone numbers or issue medical or legal directives.
func systemPrompt(tc TurnContext) string {
	locale := tc.Locale
	if locale == "" {
		locale = "en-US"
	}
	tone := tc.Tone
	if tone == "" {
		tone = "warm, calm"
	}
	risk := tc.RiskLevel
	if risk == "" {
		risk = "low"
	}

	var b strings.Builder
	b.WriteString("You are the voice of a scheduled reassurance check-in call. ")
	b.WriteString("You speak with an older or vulnerable person to check on their wellbeing.\n\n")
	fmt.Fprintf(&b, "Language/locale: %s. Preferred tone: %s. Profile risk level: %s.\n\n", locale, tone, risk)
	b.WriteString("Respond ONLY with a JSON object of this exact shape:\n")
	b.WriteString(`{"intent": string, "segments": [{"id": string, "text": string, "tone": string, "maxDurationSeconds": number}], "notesForHumanSupervisor": string or null, "handoffSignal": {"level": "none"|"monitor"|"handoff"|"emergency", "detected": boolean, "reasons": [string], "quotedTriggers": [string], "recommendedNextStep": string}}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- 1 to 3 segments, each 1-2 sentences of plain spoken language. No markdown, no lists, no URLs.\n")
	b.WriteString("- handoffSignal.level mapping: none = continue the call; monitor = offer to involve a trusted contact; handoff = a human should take over; emergency = suggest contacting emergency services.\n")
	b.WriteString("- Be conservative: reserve emergency for credible, imminent-danger language. Quote the exact trigger phrases in quotedTriggers.\n")
	b.WriteString("- Never invent phone numbers. Never give medical or legal directives.\n")
	b.WriteString("- When anything is worth a human's attention, put it in notesForHumanSupervisor; otherwise set it to null.\n")
	return b.String()
}

// userPrompt assembles the per-turn context block.
func userPrompt(tc TurnContext, op, instruction string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Operation: %s\n%s\n\n", op, instruction)
	if tc.PreferredName != "" {
		fmt.Fprintf(&b, "Preferred name: %s\n", tc.PreferredName)
	}
	if len(tc.Goals) > 0 {
		fmt.Fprintf(&b, "Check-in goals: %s\n", strings.Join(tc.Goals, "; "))
	}
	if tc.Summary != "" {
		fmt.Fprintf(&b, "\nConversation summary so far:\n%s\n", tc.Summary)
	}
	if len(tc.RecentTurns) > 0 {
		b.WriteString("\nRecent exchanges:\n")
		for _, line := range tc.RecentTurns {
			b.WriteString(line + "\n")
		}
	}
	if len(tc.MemoryNotes) > 0 {
		b.WriteString("\nRelevant notes from earlier calls:\n")
		for _, note := range tc.MemoryNotes {
			b.WriteString("- " + note + "\n")
		}
	}
	if tc.LastUtterance != "" {
		fmt.Fprintf(&b, "\nThe person just said: %q\n", tc.LastUtterance)
	}
	return b.String()
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
