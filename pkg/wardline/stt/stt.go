// Package stt provides streaming speech-to-text for Wardline call audio.
// The provider protocol is the websocket streaming shape used by hosted
// recognizers: raw audio chunks up, JSON transcript events down, each event
// tagged final or interim with a confidence score.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// Transcript is one recognition event from the streaming session.
type Transcript struct {
	// Text is the recognized fragment.
	Text string

	// Final reports whether the recognizer has committed this fragment.
	// Interim (non-final) fragments may be revised.
	Final bool

	// Confidence is the recognizer's confidence in [0,1], 0 when unknown.
	Confidence float64
}

// Session is one live recognition stream. SendAudio may be called from the
// media loop while Transcripts is drained elsewhere.
type Session interface {
	// SendAudio forwards one raw audio chunk to the recognizer.
	SendAudio(chunk []byte) error

	// Transcripts is the stream of recognition events. Closed when the
	// session ends.
	Transcripts() <-chan Transcript

	// Close flushes and tears down the stream. Safe to call more than once.
	Close() error
}

// Provider opens recognition sessions.
type Provider interface {
	StartSession(ctx context.Context) (Session, error)
}

// Config configures the websocket recognizer.
type Config struct {
	// APIKey authenticates against the recognizer.
	APIKey string `yaml:"api_key"`

	// URL is the streaming endpoint (default: Deepgram listen endpoint).
	URL string `yaml:"url"`

	// Model is the recognition model (e.g. "nova-2-phonecall").
	Model string `yaml:"model"`

	// Language is the expected speech language (e.g. "en-US").
	Language string `yaml:"language"`

	// SampleRate and Encoding describe the inbound call audio.
	// Telephone legs are 8000 Hz µ-law.
	SampleRate int    `yaml:"sample_rate"`
	Encoding   string `yaml:"encoding"`
}

// DefaultConfig returns recognizer defaults for telephone audio.
func DefaultConfig() Config {
	return Config{
		URL:        "wss://api.deepgram.com/v1/listen",
		Model:      "nova-2-phonecall",
		Language:   "en-US",
		SampleRate: 8000,
		Encoding:   "mulaw",
	}
}

// WebsocketProvider implements Provider over a streaming websocket API.
type WebsocketProvider struct {
	cfg    Config
	logger *slog.Logger
}

// NewWebsocketProvider creates a streaming recognizer client.
func NewWebsocketProvider(cfg Config, logger *slog.Logger) *WebsocketProvider {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	return &WebsocketProvider{cfg: cfg, logger: logger.With("component", "stt")}
}

// StartSession dials the recognizer and starts the read loop.
func (p *WebsocketProvider) StartSession(ctx context.Context) (Session, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("stt: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("encoding", p.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(p.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("model", p.cfg.Model)
	q.Set("language", p.cfg.Language)
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("stt: dial recognizer: %w", err)
	}

	s := &wsSession{
		conn:        conn,
		transcripts: make(chan Transcript, 16),
		logger:      p.logger,
	}
	go s.readLoop()
	return s, nil
}

// wsSession is one live websocket recognition stream.
type wsSession struct {
	conn        *websocket.Conn
	transcripts chan Transcript
	logger      *slog.Logger

	// writeMu serializes writes; gorilla connections allow one concurrent
	// writer only.
	writeMu sync.Mutex
	closed  bool
}

// transcriptEvent is the recognizer's JSON result frame.
type transcriptEvent struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// SendAudio forwards one raw audio chunk as a binary frame.
func (s *wsSession) SendAudio(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return fmt.Errorf("stt: session closed")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("stt: send audio: %w", err)
	}
	return nil
}

// Transcripts returns the recognition event stream.
func (s *wsSession) Transcripts() <-chan Transcript {
	return s.transcripts
}

// Close asks the recognizer to flush, then closes the connection. The read
// loop closes the transcript channel when the peer hangs up.
func (s *wsSession) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	// Best-effort flush request before closing.
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	return s.conn.Close()
}

// readLoop drains recognizer frames and publishes transcript events.
func (s *wsSession) readLoop() {
	defer close(s.transcripts)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// Normal teardown after Close; anything else is logged.
			if !s.isClosed() {
				s.logger.Warn("recognizer stream ended", "error", err)
			}
			return
		}

		var ev transcriptEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("unparseable recognizer frame", "error", err)
			continue
		}
		if len(ev.Channel.Alternatives) == 0 {
			continue
		}
		alt := ev.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}

		s.transcripts <- Transcript{
			Text:       alt.Transcript,
			Final:      ev.IsFinal,
			Confidence: alt.Confidence,
		}
	}
}

func (s *wsSession) isClosed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}
