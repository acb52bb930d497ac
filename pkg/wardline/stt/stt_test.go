package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRecognizer upgrades the connection and replies to each binary audio
// frame with a canned transcript event. A CloseStream text frame ends the
// stream.
func fakeRecognizer(t *testing.T, frames []string) (*httptest.Server, chan http.Header) {
	t.Helper()
	headers := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		if r.URL.Query().Get("encoding") != "mulaw" {
			t.Errorf("encoding = %q, want mulaw", r.URL.Query().Get("encoding"))
		}
		if r.URL.Query().Get("sample_rate") != "8000" {
			t.Errorf("sample_rate = %q, want 8000", r.URL.Query().Get("sample_rate"))
		}
		if r.URL.Query().Get("interim_results") != "true" {
			t.Errorf("interim_results = %q, want true", r.URL.Query().Get("interim_results"))
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		i := 0
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "CloseStream") {
				return
			}
			if mt == websocket.BinaryMessage && i < len(frames) {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frames[i])); err != nil {
					return
				}
				i++
			}
		}
	}))
	return srv, headers
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketSessionTranscripts(t *testing.T) {
	frames := []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello","confidence":0.4}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.93}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
		`{"type":"Metadata"}`,
	}
	srv, headers := fakeRecognizer(t, frames)
	defer srv.Close()

	p := NewWebsocketProvider(Config{APIKey: "dg-key", URL: wsURL(srv)}, nil)
	sess, err := p.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer sess.Close()

	h := <-headers
	if got := h.Get("Authorization"); got != "Token dg-key" {
		t.Errorf("authorization = %q, want Token dg-key", got)
	}

	for range frames {
		if err := sess.SendAudio([]byte{0xFF, 0xFF}); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	var got []Transcript
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case tr, ok := <-sess.Transcripts():
			if !ok {
				t.Fatalf("transcript stream closed early, got %d events", len(got))
			}
			got = append(got, tr)
		case <-deadline:
			t.Fatalf("timed out waiting for transcripts, got %d", len(got))
		}
	}

	if got[0].Final || got[0].Text != "hello" {
		t.Errorf("first event = %+v, want interim %q", got[0], "hello")
	}
	if !got[1].Final || got[1].Text != "hello there" {
		t.Errorf("second event = %+v, want final %q", got[1], "hello there")
	}
	if got[1].Confidence != 0.93 {
		t.Errorf("confidence = %v, want 0.93", got[1].Confidence)
	}

	// Empty-transcript and metadata frames must not surface as events.
	select {
	case tr, ok := <-sess.Transcripts():
		if ok {
			t.Errorf("unexpected extra transcript: %+v", tr)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebsocketSessionClose(t *testing.T) {
	srv, headers := fakeRecognizer(t, nil)
	defer srv.Close()

	p := NewWebsocketProvider(Config{APIKey: "k", URL: wsURL(srv)}, nil)
	sess, err := p.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	<-headers

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio([]byte{0x00}); err == nil {
		t.Fatal("SendAudio after Close should fail")
	}

	select {
	case _, ok := <-sess.Transcripts():
		if ok {
			t.Fatal("expected closed transcript channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("transcript channel not closed after Close")
	}
}

func TestStartSessionDialError(t *testing.T) {
	p := NewWebsocketProvider(Config{APIKey: "k", URL: "ws://127.0.0.1:1/listen"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.StartSession(ctx); err == nil {
		t.Fatal("expected dial error")
	}
}
