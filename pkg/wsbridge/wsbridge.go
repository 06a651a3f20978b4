// Package wsbridge connects a remote practice client to the capture and
// speech adapter interfaces over a single WebSocket.
//
// The client (typically a browser) owns the actual microphone and speaker:
// it runs platform speech recognition and synthesis locally and exchanges
// JSON events with the server. wsbridge presents that wire protocol as a
// [capture.Adapter] and a [speech.Adapter] pair sharing one connection, so
// the session engine never knows it is driving a remote platform.
//
// Wire protocol (JSON text frames):
//
//	client → server: hello, listening, transcript, recognition_ended,
//	                 recognition_error, playback_started, playback_ended,
//	                 playback_error
//	server → client: listen_start, listen_stop, speak, cancel_speech,
//	                 session_refused
//
// The client must send a hello frame first, declaring whether recognition
// and synthesis are available on its platform.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fluentloop/fluentloop/pkg/capture"
	"github.com/fluentloop/fluentloop/pkg/speech"
)

const (
	// helloTimeout bounds how long Accept waits for the client's hello frame.
	helloTimeout = 10 * time.Second

	// startAckTimeout bounds how long a capture Start waits for the client to
	// confirm recognition began (or report a permission error).
	startAckTimeout = 15 * time.Second

	// resultsBuf is the buffer depth of the capture results channel. Sized to
	// absorb a burst of interim results without stalling the read loop.
	resultsBuf = 64

	// eventsBuf is the buffer depth of the speech events channel.
	eventsBuf = 16
)

// message is the single frame shape used in both directions. Unused fields
// are omitted from the encoded JSON.
type message struct {
	Type string `json:"type"`

	// hello
	Recognition bool `json:"recognition,omitempty"`
	Synthesis   bool `json:"synthesis,omitempty"`

	// transcript
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// recognition_error / playback_error / session_refused
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// listen_start
	Language string `json:"language,omitempty"`
	Interim  bool   `json:"interim,omitempty"`

	// speak
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`
}

// permissionDeniedCode is the recognition_error code browsers report when
// the user refuses microphone access.
const permissionDeniedCode = "not-allowed"

// Bridge owns one client WebSocket and exposes the two adapter views.
// Create one per connected client via [Accept]; a Bridge is single-use.
type Bridge struct {
	conn *websocket.Conn

	recognition bool
	synthesis   bool

	writeMu sync.Mutex

	cap *captureView
	spk *speechView

	done      chan struct{}
	closeOnce sync.Once
}

// Accept upgrades the HTTP request to a WebSocket, performs the hello
// handshake, and returns a Bridge ready to hand its adapters to an engine.
func Accept(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Bridge, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: accept: %w", err)
	}

	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	_, data, err := conn.Read(helloCtx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "hello not received")
		return nil, fmt.Errorf("wsbridge: read hello: %w", err)
	}
	var hello message
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != "hello" {
		conn.Close(websocket.StatusProtocolError, "first frame must be hello")
		return nil, errors.New("wsbridge: first frame must be a hello message")
	}

	b := &Bridge{
		conn:        conn,
		recognition: hello.Recognition,
		synthesis:   hello.Synthesis,
		done:        make(chan struct{}),
	}
	b.cap = &captureView{
		bridge:  b,
		results: make(chan capture.Result, resultsBuf),
		ended:   make(chan struct{}, 4),
	}
	b.spk = &speechView{
		bridge: b,
		events: make(chan speech.Event, eventsBuf),
	}

	go b.readLoop()
	return b, nil
}

// Recognition reports whether the client offered speech recognition in its
// hello frame.
func (b *Bridge) Recognition() bool { return b.recognition }

// Synthesis reports whether the client offered speech synthesis in its
// hello frame.
func (b *Bridge) Synthesis() bool { return b.synthesis }

// Capture returns the recognition side of the bridge.
func (b *Bridge) Capture() capture.Adapter { return b.cap }

// Speech returns the synthesis side of the bridge.
func (b *Bridge) Speech() speech.Adapter { return b.spk }

// SetLanguage configures the recognition language for subsequent listen
// starts. Call before handing the capture adapter to an engine.
func (b *Bridge) SetLanguage(lang string) { b.cap.SetLanguage(lang) }

// Done returns a channel closed when the client connection is gone.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Close tears down the connection. The adapter channels are closed by the
// read loop once it observes the closed connection, keeping channel close on
// the single sending goroutine. Safe to call multiple times.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.conn.Close(websocket.StatusNormalClosure, "session ended")
		close(b.done)
	})
	return nil
}

// Refuse tells the client why no session will run — a session_refused frame
// carrying a machine-readable code and a user-facing message — then closes
// the connection with a policy-violation status so clients can tell a
// refusal apart from a healthy teardown or a network drop. Code should be a
// stable identifier such as "quota_exhausted". No-op after Close.
func (b *Bridge) Refuse(code, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.send(ctx, message{Type: "session_refused", Code: code, Message: msg}); err != nil {
		slog.Debug("wsbridge: send refusal", "code", code, "err", err)
	}
	b.closeOnce.Do(func() {
		b.conn.Close(websocket.StatusPolicyViolation, code)
		close(b.done)
	})
}

// send encodes and writes one frame. A single writer at a time per the
// websocket contract.
func (b *Bridge) send(ctx context.Context, m message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("wsbridge: marshal %s: %w", m.Type, err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsbridge: write %s: %w", m.Type, err)
	}
	return nil
}

// readLoop drains client frames until the connection drops, dispatching
// them to the adapter channels. Runs on its own goroutine for the life of
// the bridge.
func (b *Bridge) readLoop() {
	defer func() {
		b.Close()
		// The read loop is the only sender on these channels, so closing
		// here cannot race a send.
		close(b.cap.results)
		close(b.spk.events)
	}()
	ctx := context.Background()
	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			select {
			case <-b.done:
			default:
				slog.Debug("wsbridge: connection closed", "err", err)
			}
			return
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("wsbridge: malformed frame dropped", "err", err)
			continue
		}
		b.dispatch(m)
	}
}

// dispatch routes one client frame. Sends are non-blocking where loss is
// tolerable (ended signals coalesce) and blocking where order matters
// (transcripts, playback events).
func (b *Bridge) dispatch(m message) {
	switch m.Type {
	case "listening":
		b.cap.ack(nil)
	case "transcript":
		select {
		case b.cap.results <- capture.Result{Text: m.Text, Final: m.Final}:
		case <-b.done:
		}
	case "recognition_ended":
		select {
		case b.cap.ended <- struct{}{}:
		default: // pending end signal already queued; coalesce
		}
	case "recognition_error":
		if m.Code == permissionDeniedCode {
			b.cap.ack(capture.ErrPermissionDenied)
			return
		}
		// Transient recognition errors (no-speech, audio-capture hiccups)
		// surface as a platform end so the caller's restart logic applies.
		slog.Debug("wsbridge: transient recognition error", "code", m.Code)
		select {
		case b.cap.ended <- struct{}{}:
		default:
		}
	case "playback_started":
		b.spk.deliver(speech.Event{Kind: speech.EventStarted})
	case "playback_ended":
		b.spk.deliver(speech.Event{Kind: speech.EventEnded})
	case "playback_error":
		b.spk.deliver(speech.Event{Kind: speech.EventError, Message: m.Message})
	default:
		slog.Warn("wsbridge: unknown frame type dropped", "type", m.Type)
	}
}

// ─── capture view ─────────────────────────────────────────────────────────────

// captureView implements capture.Adapter over the bridge.
type captureView struct {
	bridge  *Bridge
	results chan capture.Result
	ended   chan struct{}

	mu       sync.Mutex
	pending  chan error // non-nil while a Start awaits its ack
	language string
}

// SetLanguage configures the recognition language sent with listen_start.
// Must be called before Start.
func (c *captureView) SetLanguage(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = lang
}

// Start asks the client to begin recognition and waits for its confirmation.
func (c *captureView) Start(ctx context.Context) error {
	if !c.bridge.recognition {
		return capture.ErrUnavailable
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return errors.New("wsbridge: capture start already in progress")
	}
	ack := make(chan error, 1)
	c.pending = ack
	lang := c.language
	c.mu.Unlock()

	clear := func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}

	if err := c.bridge.send(ctx, message{Type: "listen_start", Language: lang, Interim: true}); err != nil {
		clear()
		return err
	}

	timer := time.NewTimer(startAckTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		clear()
		return err
	case <-timer.C:
		clear()
		return fmt.Errorf("wsbridge: no listening ack within %s: %w", startAckTimeout, capture.ErrUnavailable)
	case <-ctx.Done():
		clear()
		return ctx.Err()
	case <-c.bridge.done:
		clear()
		return errors.New("wsbridge: connection closed during start")
	}
}

// ack resolves a pending Start, if any. A nil err confirms recognition began.
func (c *captureView) ack(err error) {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending != nil {
		select {
		case pending <- err:
		default:
		}
	}
}

// Stop asks the client to halt recognition. Best-effort: a dead connection
// means recognition is already gone.
func (c *captureView) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.bridge.send(ctx, message{Type: "listen_stop"})
}

func (c *captureView) Results() <-chan capture.Result { return c.results }

func (c *captureView) Ended() <-chan struct{} { return c.ended }

// Ensure captureView implements capture.Adapter at compile time.
var _ capture.Adapter = (*captureView)(nil)

// ─── speech view ──────────────────────────────────────────────────────────────

// speechView implements speech.Adapter over the bridge.
type speechView struct {
	bridge *Bridge
	events chan speech.Event
}

// Speak forwards one utterance to the client synthesizer.
func (s *speechView) Speak(ctx context.Context, u speech.Utterance) error {
	if !s.bridge.synthesis {
		return errors.New("wsbridge: client reported no synthesis capability")
	}
	return s.bridge.send(ctx, message{
		Type:  "speak",
		Text:  u.Text,
		Voice: u.Voice,
		Rate:  u.Rate,
		Pitch: u.Pitch,
	})
}

// Cancel aborts client-side playback.
func (s *speechView) Cancel() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.bridge.send(ctx, message{Type: "cancel_speech"})
}

func (s *speechView) Events() <-chan speech.Event { return s.events }

// deliver forwards a playback event, dropping it if the bridge is closed.
func (s *speechView) deliver(ev speech.Event) {
	select {
	case s.events <- ev:
	case <-s.done():
	}
}

func (s *speechView) done() <-chan struct{} { return s.bridge.done }

// Ensure speechView implements speech.Adapter at compile time.
var _ speech.Adapter = (*speechView)(nil)
