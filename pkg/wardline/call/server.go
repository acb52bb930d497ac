package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wardlinehq/wardline/pkg/wardline/schedule"
	"github.com/wardlinehq/wardline/pkg/wardline/store"
	"github.com/wardlinehq/wardline/pkg/wardline/telephony"
)

// ServerConfig configures the HTTP surface of the call engine.
type ServerConfig struct {
	// Address is the listen address (default ":8090").
	Address string `yaml:"address"`

	// PublicURL is the externally reachable base URL, used to build the
	// websocket stream URL handed to the telephony provider.
	PublicURL string `yaml:"public_url"`
}

// Server exposes the telephony webhooks and the media-stream endpoint.
type Server struct {
	engine    *Engine
	store     *store.Store
	scheduler *schedule.Scheduler
	cfg       ServerConfig
	server    *http.Server
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	startedAt time.Time
}

// NewServer creates the call HTTP server.
func NewServer(engine *Engine, st *store.Store, scheduler *schedule.Scheduler, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8090"
	}
	return &Server{
		engine:    engine,
		store:     st,
		scheduler: scheduler,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony provider connects from its own infrastructure.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "call-server"),
	}
}

// Start begins serving.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/telephony/voice", s.handleVoice)
	mux.HandleFunc("/telephony/status", s.handleStatus)
	mux.HandleFunc("/telephony/stream", s.handleStream)

	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: mux,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("call server error", "error", err)
		}
	}()
	s.logger.Info("call server started", "address", s.cfg.Address)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("call server stopping...")
	return s.server.Shutdown(ctx)
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uptime := time.Since(s.startedAt).Round(time.Second).String()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"uptime":          uptime,
		"active_sessions": s.engine.ActiveSessions(),
	})
}

// handleVoice answers the provider's voice webhook with the stream-connect
// instruction document, echoing the job identifiers into the stream's
// custom parameters.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := map[string]string{
		"scheduleId": q.Get("scheduleId"),
		"jobId":      q.Get("jobId"),
		"callId":     q.Get("contactId"),
	}

	xml, err := telephony.ConnectStreamXML(s.streamURL(), params)
	if err != nil {
		s.logger.Error("building stream instruction failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(xml)
}

// streamURL derives the websocket endpoint from the public base URL.
func (s *Server) streamURL() string {
	base := s.cfg.PublicURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/telephony/stream"
}

// handleStatus records provider status callbacks. Calls that never connect
// (busy, no-answer, failed) fail their job here and re-arm the schedule;
// completed calls are closed out by the session finalizer instead.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	if callSID == "" || status == "" {
		http.Error(w, "missing CallSid or CallStatus", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateCallLogStatus(callSID, status); err != nil {
		s.logger.Warn("updating call log failed", "call_sid", callSID, "error", err)
	}
	s.logger.Info("call status", "call_sid", callSID, "status", status)

	switch status {
	case "busy", "no-answer", "failed", "canceled":
		s.failUndeliveredJob(r.URL.Query().Get("jobId"), r.URL.Query().Get("scheduleId"), status)
	}
	w.WriteHeader(http.StatusNoContent)
}

// failUndeliveredJob closes a job whose call never reached a conversation.
func (s *Server) failUndeliveredJob(jobID, scheduleID, status string) {
	if jobID == "" {
		return
	}
	job, err := s.store.GetJob(jobID)
	if err != nil || job.Status != store.JobProcessing {
		return
	}
	if err := s.store.MarkJobFailed(jobID, "call "+status); err != nil {
		s.logger.Error("failing undelivered job", "job_id", jobID, "error", err)
		return
	}
	if s.scheduler == nil || scheduleID == "" {
		return
	}
	sched, err := s.store.GetSchedule(scheduleID)
	if err != nil {
		s.logger.Warn("loading schedule for re-arm failed", "schedule_id", scheduleID, "error", err)
		return
	}
	if err := s.scheduler.EnsureNextJob(sched, time.Now()); err != nil {
		s.logger.Warn("re-arming schedule failed", "schedule_id", scheduleID, "error", err)
	}
}

// handleStream upgrades to a media-stream websocket and runs the per-call
// event loop. Events are handled one at a time in arrival order; everything
// concurrent hangs off the session's aggregator and turn gate.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// gorilla allows one concurrent writer; speak runs off this goroutine.
	var writeMu sync.Mutex
	send := func(msg telephony.StreamMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	var session *Session
	defer func() {
		// Covers abrupt disconnects; a no-op after a clean stop event.
		if session != nil {
			session.Finalize(store.SessionFailed)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg telephony.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("unparseable stream frame", "error", err)
			continue
		}

		switch msg.Event {
		case telephony.EventStart:
			if msg.Start == nil || session != nil {
				continue
			}
			session, err = s.engine.StartSession(r.Context(), msg.Start, send)
			if err != nil {
				s.logger.Error("session bootstrap failed", "error", err)
				return
			}

		case telephony.EventMedia:
			if session == nil || msg.Media == nil {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				s.logger.Debug("invalid media payload", "error", err)
				continue
			}
			session.HandleMedia(audio)

		case telephony.EventStop:
			if session != nil {
				// Best-effort goodbye; if the caller already hung up the
				// sends fail silently and teardown proceeds.
				session.SpeakClosing()
				session.Finalize(store.SessionCompleted)
				session = nil
			}
			return
		}
	}
}
