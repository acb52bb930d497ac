package call

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/wardlinehq/wardline/pkg/wardline/schedule"
	"github.com/wardlinehq/wardline/pkg/wardline/store"
)

func newTestServer(t *testing.T, h *harness) *Server {
	t.Helper()
	return NewServer(h.engine, h.st, schedule.NewScheduler(h.st, nil), ServerConfig{
		Address:   ":0",
		PublicURL: "https://calls.example.com",
	}, nil)
}

func TestHandleHealth(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(t, h)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["active_sessions"] != float64(0) {
		t.Errorf("active_sessions = %v, want 0", body["active_sessions"])
	}

	rec = httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestHandleVoice(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(t, h)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		"/telephony/voice?scheduleId=sch-1&jobId=job-1&contactId=ct-1", nil)
	srv.handleVoice(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("content-type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `url="wss://calls.example.com/telephony/stream"`) {
		t.Errorf("stream url missing or wrong scheme:\n%s", body)
	}
	for _, pair := range []struct{ name, value string }{
		{"scheduleId", "sch-1"},
		{"jobId", "job-1"},
		{"callId", "ct-1"},
	} {
		if !strings.Contains(body, pair.name) || !strings.Contains(body, pair.value) {
			t.Errorf("parameter %s=%s missing:\n%s", pair.name, pair.value, body)
		}
	}
}

func postStatus(t *testing.T, srv *Server, query string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/telephony/status?"+query,
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	srv.handleStatus(rec, req)
	return rec
}

func TestHandleStatusFailsUndeliveredJob(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(t, h)

	rec := postStatus(t, srv, "jobId="+h.job.ID+"&scheduleId="+h.sched.ID, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"no-answer"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	job, err := h.st.GetJob(h.job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != store.JobFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.FailureReason, "no-answer") {
		t.Errorf("failure reason = %q", job.FailureReason)
	}

	next, err := h.st.ActiveJobForSchedule(h.sched.ID)
	if err != nil {
		t.Fatalf("ActiveJobForSchedule failed: %v", err)
	}
	if next == nil {
		t.Fatal("expected schedule to be re-armed with a new job")
	}
	if next.ID == h.job.ID {
		t.Error("re-armed job should be a new row")
	}
}

func TestHandleStatusCompletedLeavesJob(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(t, h)

	rec := postStatus(t, srv, "jobId="+h.job.ID+"&scheduleId="+h.sched.ID, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"completed"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	job, err := h.st.GetJob(h.job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	// Completed calls are closed out by the session finalizer.
	if job.Status != store.JobProcessing {
		t.Errorf("job status = %q, want processing", job.Status)
	}
}

func TestHandleStatusValidation(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(t, h)

	rec := postStatus(t, srv, "", url.Values{"CallStatus": {"busy"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing CallSid: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/telephony/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: status = %d, want 405", rec.Code)
	}
}

func TestHandleStreamRejectsBadStart(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(t, h)

	ws := httptest.NewServer(http.HandlerFunc(srv.handleStream))
	defer ws.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ws.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// No scheduleId in the custom parameters; bootstrap must fail and the
	// server must drop the stream.
	start := `{"event":"start","start":{"streamSid":"MZ9","callSid":"CA9","customParameters":{}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected server to close the stream after failed bootstrap")
	}
}

func TestHandleStreamStopCompletesSession(t *testing.T) {
	h := newHarness(t)
	srv := newTestServer(t, h)

	ws := httptest.NewServer(http.HandlerFunc(srv.handleStream))
	defer ws.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ws.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := `{"event":"start","start":{"streamSid":"MZ5","callSid":"CA5",` +
		`"customParameters":{"scheduleId":"` + h.sched.ID + `","jobId":"` + h.job.ID + `"}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write start: %v", err)
	}
	// The opening comes back over the stream.
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read opening: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	// A clean stop speaks the goodbye and lands the session on completed,
	// not on the abrupt-disconnect outcome.
	waitFor(t, "completed session", func() bool {
		var status string
		err := h.st.DB().QueryRow(
			`SELECT status FROM sessions WHERE call_id = ?`, "CA5").Scan(&status)
		return err == nil && status == string(store.SessionCompleted)
	})

	job, err := h.st.GetJob(h.job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != store.JobCompleted {
		t.Errorf("job status = %q, want completed", job.Status)
	}
}
