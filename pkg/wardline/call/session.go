// Package call implements the live conversation engine: one media stream
// in, transcripts aggregated into utterances, agent-planned turns spoken
// back out, memory updated along the way, everything torn down exactly once
// when the call ends.
package call

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wardlinehq/wardline/pkg/wardline/agent"
	"github.com/wardlinehq/wardline/pkg/wardline/memory"
	"github.com/wardlinehq/wardline/pkg/wardline/recordings"
	"github.com/wardlinehq/wardline/pkg/wardline/schedule"
	"github.com/wardlinehq/wardline/pkg/wardline/store"
	"github.com/wardlinehq/wardline/pkg/wardline/stt"
	"github.com/wardlinehq/wardline/pkg/wardline/telephony"
	"github.com/wardlinehq/wardline/pkg/wardline/tts"
)

// Config configures the conversation engine.
type Config struct {
	// Debounce is the silence window that closes an utterance (default 700ms).
	Debounce time.Duration `yaml:"debounce"`

	// AgentTimeout bounds one turn generation (default 30s). On expiry the
	// turn is abandoned and the conversation continues.
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// TTSTimeout bounds one segment synthesis (default 30s).
	TTSTimeout time.Duration `yaml:"tts_timeout"`

	// MemoryTimeout bounds embedding and retrieval calls (default 30s).
	MemoryTimeout time.Duration `yaml:"memory_timeout"`

	// Voice is the synthesis voice for spoken segments.
	Voice string `yaml:"voice"`

	// TempDir holds in-progress recording files ("" = system temp).
	TempDir string `yaml:"temp_dir"`

	// RecordCalls enables per-direction audio recording.
	RecordCalls bool `yaml:"record_calls"`
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:      DefaultDebounce,
		AgentTimeout:  30 * time.Second,
		TTSTimeout:    30 * time.Second,
		MemoryTimeout: 30 * time.Second,
		RecordCalls:   true,
	}
}

// Engine owns all live call sessions and their shared collaborators.
type Engine struct {
	store      *store.Store
	agent      *agent.Client
	stt        stt.Provider
	tts        tts.Provider
	chunks     *memory.ChunkStore
	recordings recordings.Store
	scheduler  *schedule.Scheduler
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // keyed by stream SID
}

// NewEngine creates the conversation engine.
func NewEngine(
	st *store.Store,
	ag *agent.Client,
	sttProvider stt.Provider,
	ttsProvider tts.Provider,
	chunks *memory.ChunkStore,
	recs recordings.Store,
	scheduler *schedule.Scheduler,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = def.AgentTimeout
	}
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = def.TTSTimeout
	}
	if cfg.MemoryTimeout <= 0 {
		cfg.MemoryTimeout = def.MemoryTimeout
	}
	return &Engine{
		store:      st,
		agent:      ag,
		stt:        sttProvider,
		tts:        ttsProvider,
		chunks:     chunks,
		recordings: recs,
		scheduler:  scheduler,
		cfg:        cfg,
		logger:     logger.With("component", "call"),
	}
}

// Session is the per-call state bundle. One goroutine feeds it media
// events; the aggregator and turn gate fan work out from there.
type Session struct {
	engine *Engine
	logger *slog.Logger

	id         string // session record ID
	streamSID  string
	callSID    string
	scheduleID string
	jobID      string

	contact *store.Contact
	profile *store.Profile

	// degraded marks a bootstrap that could not resolve its store records;
	// the call still runs, on defaults and the fixed greeting.
	degraded bool

	// send writes one frame to the media-stream websocket.
	send func(msg telephony.StreamMessage) error

	recognizer stt.Session
	agg        *Aggregator
	gate       *turnGate

	callerRec *recorder
	agentRec  *recorder

	mu        sync.Mutex
	summary   string
	riskLevel string
	finalized bool
}

// register indexes a session by stream SID.
func (e *Engine) register(s *Session) {
	e.mu.Lock()
	if e.sessions == nil {
		e.sessions = make(map[string]*Session)
	}
	e.sessions[s.streamSID] = s
	e.mu.Unlock()
}

// unregister drops a session from the index.
func (e *Engine) unregister(streamSID string) {
	e.mu.Lock()
	delete(e.sessions, streamSID)
	e.mu.Unlock()
}

// lookup finds a live session by stream SID.
func (e *Engine) lookup(streamSID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[streamSID]
}

// ActiveSessions reports how many calls are live right now.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
