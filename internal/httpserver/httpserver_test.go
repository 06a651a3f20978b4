package httpserver_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fluentloop/fluentloop/internal/app"
	"github.com/fluentloop/fluentloop/internal/config"
	"github.com/fluentloop/fluentloop/internal/health"
	"github.com/fluentloop/fluentloop/internal/httpserver"
	"github.com/fluentloop/fluentloop/internal/quota"
	"github.com/fluentloop/fluentloop/internal/scoring"
	scmock "github.com/fluentloop/fluentloop/internal/scoring/mock"
)

type frame struct {
	Type        string  `json:"type"`
	Recognition bool    `json:"recognition,omitempty"`
	Synthesis   bool    `json:"synthesis,omitempty"`
	Text        string  `json:"text,omitempty"`
	Final       bool    `json:"final,omitempty"`
	Code        string  `json:"code,omitempty"`
	Message     string  `json:"message,omitempty"`
	Language    string  `json:"language,omitempty"`
	Interim     bool    `json:"interim,omitempty"`
	Voice       string  `json:"voice,omitempty"`
	Rate        float64 `json:"rate,omitempty"`
	Pitch       float64 `json:"pitch,omitempty"`
}

func newTestServer(t *testing.T) (*httptest.Server, *quota.MemoryStore) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := quota.NewMemoryStore()
	manager, err := app.NewManager(app.Deps{
		Store: store,
		Scorer: &scmock.Client{Result: &scoring.Result{
			Reply:  "Great, let's begin",
			Scores: &scoring.Scores{Overall: 40},
		}},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { manager.StopAll(context.Background()) })

	s := httpserver.New(config.ServerConfig{}, "en-US", manager, health.New(), logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func send(t *testing.T, conn *websocket.Conn, f frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, _ := json.Marshal(f)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write %s: %v", f.Type, err)
	}
}

func expect(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read (waiting for %s): %v", typ, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestPractice_FullSessionOverWebSocket(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/practice?user=u1"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	send(t, conn, frame{Type: "hello", Recognition: true, Synthesis: true})

	// The engine starts recognition and speaks its greeting.
	ls := expect(t, conn, "listen_start")
	if ls.Language != "en-US" {
		t.Errorf("listen_start language: want en-US, got %q", ls.Language)
	}
	send(t, conn, frame{Type: "listening"})

	greeting := expect(t, conn, "speak")
	if greeting.Text == "" {
		t.Error("greeting utterance is empty")
	}
	send(t, conn, frame{Type: "playback_started"})
	send(t, conn, frame{Type: "playback_ended"})

	// After the turnaround delay the engine restarts recognition.
	expect(t, conn, "listen_start")
	send(t, conn, frame{Type: "listening"})

	// The learner speaks; the scored reply comes back as a speak frame.
	send(t, conn, frame{Type: "transcript", Text: "Hello I am ready", Final: true})
	reply := expect(t, conn, "speak")
	if reply.Text != "Great, let's begin" {
		t.Errorf("reply: want scorer reply, got %q", reply.Text)
	}

	// The live-analysis view reflects the session.
	resp, err := http.Get(srv.URL + "/v1/sessions/u1")
	if err != nil {
		t.Fatalf("GET session view: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session view status: want 200, got %d", resp.StatusCode)
	}
	var view struct {
		Phase string `json:"phase"`
		Turns []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"turns"`
		Score *struct {
			Overall int `json:"overall"`
		} `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Turns) != 2 {
		t.Errorf("view turns: want 2, got %d", len(view.Turns))
	}
	if view.Score == nil || view.Score.Overall != 40 {
		t.Errorf("view score: want overall 40, got %+v", view.Score)
	}

	// Leaving tears the session down; the view disappears.
	conn.Close(websocket.StatusNormalClosure, "leaving")
	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(srv.URL + "/v1/sessions/u1")
		if err != nil {
			t.Fatalf("GET after close: %v", err)
		}
		r.Body.Close()
		if r.StatusCode == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session view still present after disconnect (status %d)", r.StatusCode)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPractice_SecondSessionForSameUserRefused(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/practice?user=u1"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")
	send(t, conn, frame{Type: "hello", Recognition: true, Synthesis: true})
	expect(t, conn, "listen_start")
	send(t, conn, frame{Type: "listening"})

	// Second connection for the same user: the server explains the refusal
	// before closing.
	conn2, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/practice?user=u1"), nil)
	if err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	defer conn2.Close(websocket.StatusNormalClosure, "test done")
	send(t, conn2, frame{Type: "hello", Recognition: true, Synthesis: true})

	refusal := expect(t, conn2, "session_refused")
	if refusal.Code != "session_active" {
		t.Errorf("refusal code: want session_active, got %q", refusal.Code)
	}
	expectClosed(t, conn2)
}

// expectClosed drains conn until the server closes it and verifies the close
// carries the refusal status rather than a normal teardown.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	for {
		_, _, err := conn.Read(readCtx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
				t.Errorf("close status: want policy violation, got %v (%v)", status, err)
			}
			return
		}
	}
}

func TestPractice_QuotaExhaustedReachesClient(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Burn the whole default daily allowance before connecting.
	if err := store.AddConsumed(ctx, "u1", 600, time.Now()); err != nil {
		t.Fatalf("AddConsumed: %v", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/practice?user=u1"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")
	send(t, conn, frame{Type: "hello", Recognition: true, Synthesis: true})

	refusal := expect(t, conn, "session_refused")
	if refusal.Code != "quota_exhausted" {
		t.Errorf("refusal code: want quota_exhausted, got %q", refusal.Code)
	}
	if refusal.Message == "" {
		t.Error("refusal must carry a user-facing message")
	}
	expectClosed(t, conn)
}

func TestPractice_MissingCapabilityReachesClient(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/practice?user=u1"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")
	send(t, conn, frame{Type: "hello", Recognition: false, Synthesis: true})

	refusal := expect(t, conn, "session_refused")
	if refusal.Code != "capability_unavailable" {
		t.Errorf("refusal code: want capability_unavailable, got %q", refusal.Code)
	}
	expectClosed(t, conn)
}

func TestPractice_MissingUserParam(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/practice")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: want 400, got %d", resp.StatusCode)
	}
}

func TestSessionView_NoSession(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/sessions/nobody")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: want 404, got %d", resp.StatusCode)
	}
}

func TestStopSessionEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/v1/practice?user=u1"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")
	send(t, conn, frame{Type: "hello", Recognition: true, Synthesis: true})
	expect(t, conn, "listen_start")
	send(t, conn, frame{Type: "listening"})

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/u1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status: want 204, got %d", resp.StatusCode)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status: want 404, got %d", resp.StatusCode)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: want 200, got %d", path, resp.StatusCode)
		}
	}
}
