// Package engine implements the voice practice session state machine.
//
// One Engine drives one session: it owns turn-taking between the learner and
// the coach, the daily-quota countdown, the live score snapshot, and the
// emotional read of the learner's speech. It composes a capture adapter
// (speech-to-text), a speech adapter (text-to-speech), a scoring client and a
// quota store; all of them are interfaces so sessions can run against a
// browser bridge in production and against mocks in tests.
//
// All state mutation happens on a single run-loop goroutine that consumes
// the wall-clock ticker, capture results, capture end events, playback
// events, scoring outcomes, and control commands. Asynchronous outcomes
// carry no state of their own: the loop re-reads the current state when
// applying them, so a result scheduled against an old phase can never
// clobber a newer one. An explicit sessionActive flag, not the phase value,
// decides whether platform-initiated capture ends trigger a restart and
// whether late scoring results still apply.
//
// Engines are single-use: once stopped they cannot be started again.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fluentloop/fluentloop/internal/emotion"
	"github.com/fluentloop/fluentloop/internal/observe"
	"github.com/fluentloop/fluentloop/internal/quota"
	"github.com/fluentloop/fluentloop/internal/scoring"
	"github.com/fluentloop/fluentloop/pkg/capture"
	"github.com/fluentloop/fluentloop/pkg/speech"
)

// ─── Phases ──────────────────────────────────────────────────────────────────

// Phase is the session lifecycle state. Exactly one phase holds at any time.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseListening
	PhaseProcessing
	PhaseSpeaking
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseListening:
		return "listening"
	case PhaseProcessing:
		return "processing"
	case PhaseSpeaking:
		return "speaking"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrPermissionDenied is returned by Start when the client refused
	// microphone access.
	ErrPermissionDenied = errors.New("engine: microphone permission denied")

	// ErrCapabilityUnavailable is returned by Start when the client lacks a
	// speech capability.
	ErrCapabilityUnavailable = errors.New("engine: speech capability unavailable")

	// ErrQuotaExhausted is returned by Start when no daily practice time
	// remains. It is a precondition failure, not a session fault.
	ErrQuotaExhausted = errors.New("engine: daily practice quota exhausted")

	// ErrAlreadyStarted is returned by Start on a non-idle engine.
	ErrAlreadyStarted = errors.New("engine: session already started")
)

// ─── Data model ──────────────────────────────────────────────────────────────

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Turn is one committed utterance in the session transcript. Immutable once
// appended.
type Turn struct {
	ID        int       `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the session state for presentation.
type Snapshot struct {
	Phase            Phase
	Turns            []Turn
	Score            *scoring.Scores
	Interim          string
	ElapsedSeconds   int64
	RemainingSeconds int64
	Emotion          emotion.Signal
}

// ─── Configuration ───────────────────────────────────────────────────────────

// feedbackPrompt is the canned user turn synthesized by RequestFeedback.
const feedbackPrompt = "How am I doing so far? Please give me some feedback on my speaking."

// Config parameterises a session. Zero values fall back to the defaults
// noted per field.
type Config struct {
	// UserID owns the session and keys quota usage. Required.
	UserID string

	// Greeting is the opening agent utterance. Default is a generic
	// coach greeting.
	Greeting string

	// DailyAllowanceSeconds is the per-day practice budget. Required > 0.
	DailyAllowanceSeconds int64

	// ScoringTimeout bounds each scoring round trip. Default 30s.
	ScoringTimeout time.Duration

	// ResumeDelay is the pause between agent playback ending and the
	// microphone resuming, so the tail of the utterance is not captured.
	// Default 250ms.
	ResumeDelay time.Duration

	// TickInterval is the quota clock period. Default 1s; tests shorten it.
	TickInterval time.Duration

	// VoiceName, VoiceRate and VoicePitch select the synthesis voice.
	// Rate and pitch default to 1.0.
	VoiceName  string
	VoiceRate  float64
	VoicePitch float64

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.Greeting == "" {
		c.Greeting = "Hi! I'm your speaking coach. Tell me about your day and we'll practice together."
	}
	if c.ScoringTimeout <= 0 {
		c.ScoringTimeout = 30 * time.Second
	}
	if c.ResumeDelay <= 0 {
		c.ResumeDelay = 250 * time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.VoiceRate == 0 {
		c.VoiceRate = 1.0
	}
	if c.VoicePitch == 0 {
		c.VoicePitch = 1.0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// ─── Engine ──────────────────────────────────────────────────────────────────

type scoringOutcome struct {
	res *scoring.Result
	err error
}

// Engine is the session state machine. Safe for concurrent use; see the
// package comment for the concurrency model.
type Engine struct {
	cfg     Config
	capture capture.Adapter
	speech  speech.Adapter
	scorer  scoring.Client
	store   quota.Store
	log     *slog.Logger
	metrics *observe.Metrics

	// State cell. The run loop is the only writer after Start; the mutex
	// makes Snapshot safe for outside readers.
	mu            sync.Mutex
	phase         Phase
	turns         []Turn
	score         *scoring.Scores
	interim       string
	elapsed       int64
	remaining     int64
	emo           emotion.Signal
	sessionActive bool
	nextTurnID    int
	listenStart   time.Time
	pauseCount    int
	playbackStart time.Time

	runCtx    context.Context
	runCancel context.CancelFunc
	cmds      chan func()
	scoringCh chan scoringOutcome
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates an engine for a single session. All four collaborators are
// required.
func New(capt capture.Adapter, spk speech.Adapter, scorer scoring.Client, store quota.Store, cfg Config) (*Engine, error) {
	if capt == nil || spk == nil || scorer == nil || store == nil {
		return nil, fmt.Errorf("engine: all collaborators are required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("engine: user id is required")
	}
	if cfg.DailyAllowanceSeconds <= 0 {
		return nil, fmt.Errorf("engine: daily allowance must be positive")
	}
	cfg = cfg.withDefaults()

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		capture:   capt,
		speech:    spk,
		scorer:    scorer,
		store:     store,
		log:       cfg.Logger.With("component", "engine", "user", cfg.UserID),
		metrics:   cfg.Metrics,
		phase:     PhaseIdle,
		runCtx:    runCtx,
		runCancel: runCancel,
		cmds:      make(chan func(), 8),
		scoringCh: make(chan scoringOutcome, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins the session. Preconditions: the engine is idle and the user
// has remaining quota today. On success the engine is speaking its greeting
// and the quota clock is running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseIdle {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.phase = PhaseConnecting
	e.mu.Unlock()

	revert := func() {
		e.mu.Lock()
		e.phase = PhaseIdle
		e.mu.Unlock()
	}

	remaining, err := quota.Remaining(ctx, e.store, e.cfg.UserID, e.cfg.DailyAllowanceSeconds, time.Now())
	if err != nil {
		revert()
		return fmt.Errorf("engine: read quota: %w", err)
	}
	if remaining <= 0 {
		revert()
		e.metrics.QuotaRefusals.Add(ctx, 1)
		return ErrQuotaExhausted
	}

	if err := e.capture.Start(ctx); err != nil {
		revert()
		switch {
		case errors.Is(err, capture.ErrPermissionDenied):
			return ErrPermissionDenied
		case errors.Is(err, capture.ErrUnavailable):
			return ErrCapabilityUnavailable
		default:
			return fmt.Errorf("engine: start capture: %w", err)
		}
	}

	e.mu.Lock()
	e.sessionActive = true
	e.remaining = remaining
	e.phase = PhaseSpeaking
	e.listenStart = time.Now()
	e.mu.Unlock()

	e.metrics.SessionsStarted.Add(ctx, 1)
	e.metrics.ActiveSessions.Add(ctx, 1)
	e.log.Info("session started", "remaining_seconds", remaining)

	// The greeting is spoken but not committed to the transcript log; the
	// log holds the learner's exchange, and the greeting is prepended to the
	// scoring history separately.
	go e.run()
	go e.speak(e.cfg.Greeting)
	return nil
}

// Stop ends the session from any phase: cancels playback, stops capture,
// halts the quota clock and persists the session's elapsed seconds exactly
// once. Safe to call repeatedly and from any goroutine.
func (e *Engine) Stop(ctx context.Context) error {
	var err error
	e.stopOnce.Do(func() { err = e.doStop(ctx) })
	return err
}

func (e *Engine) doStop(ctx context.Context) error {
	e.mu.Lock()
	wasActive := e.sessionActive
	e.sessionActive = false
	e.phase = PhaseEnded
	e.interim = ""
	elapsed := e.elapsed
	e.mu.Unlock()

	e.runCancel()
	if err := e.speech.Cancel(); err != nil {
		e.log.Warn("cancel playback", "error", err)
	}
	if err := e.capture.Stop(); err != nil {
		e.log.Warn("stop capture", "error", err)
	}

	if !wasActive {
		return nil
	}
	e.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	e.log.Info("session ended", "elapsed_seconds", elapsed)

	// Fresh context: caller cancellation must not lose the usage write.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.AddConsumed(wctx, e.cfg.UserID, elapsed, time.Now()); err != nil {
		e.log.Error("persist usage", "error", err, "elapsed_seconds", elapsed)
		return fmt.Errorf("engine: persist usage: %w", err)
	}
	return nil
}

// RequestFeedback synthesizes a canned user turn asking for feedback and
// routes it through the same path as a spoken final transcript. No-op when
// the session is not listening.
func (e *Engine) RequestFeedback() {
	e.enqueue(func() { e.handleFinalTranscript(feedbackPrompt) })
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Phase:            e.phase,
		Turns:            make([]Turn, len(e.turns)),
		Interim:          e.interim,
		ElapsedSeconds:   e.elapsed,
		RemainingSeconds: e.remaining,
		Emotion:          e.emo,
	}
	copy(snap.Turns, e.turns)
	if e.score != nil {
		s := *e.score
		snap.Score = &s
	}
	return snap
}

// Wait blocks until the run loop has exited. Only meaningful after Start.
func (e *Engine) Wait() {
	<-e.done
}

func (e *Engine) enqueue(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.runCtx.Done():
	}
}

// ─── Run loop ────────────────────────────────────────────────────────────────

func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	results := e.capture.Results()
	ended := e.capture.Ended()
	events := e.speech.Events()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.onTick()
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			e.onCaptureResult(r)
		case _, ok := <-ended:
			if !ok {
				ended = nil
				continue
			}
			e.onCaptureEnded()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.onSpeechEvent(ev)
		case out := <-e.scoringCh:
			e.onScoringResult(out)
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

// onTick advances the quota clock and ends the session when the allowance
// runs out.
func (e *Engine) onTick() {
	e.mu.Lock()
	if !e.sessionActive {
		e.mu.Unlock()
		return
	}
	e.elapsed++
	if e.remaining > 0 {
		e.remaining--
	}
	exhausted := e.remaining == 0
	e.mu.Unlock()

	if exhausted {
		e.log.Info("quota exhausted mid-session, ending")
		go func() { _ = e.Stop(context.Background()) }()
	}
}

func (e *Engine) onCaptureResult(r capture.Result) {
	if !r.Final {
		e.mu.Lock()
		if e.sessionActive && e.phase == PhaseListening {
			e.interim = r.Text
		}
		e.mu.Unlock()
		return
	}
	e.handleFinalTranscript(r.Text)
}

// handleFinalTranscript commits a user turn and issues the scoring request.
// Runs on the loop goroutine only. While a request is in flight the phase is
// Processing and further finals are dropped, so at most one scoring call is
// outstanding per session.
func (e *Engine) handleFinalTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	e.mu.Lock()
	if !e.sessionActive || e.phase != PhaseListening {
		e.mu.Unlock()
		return
	}

	turn := Turn{ID: e.nextTurnID, Speaker: SpeakerUser, Text: text, Timestamp: time.Now()}
	e.nextTurnID++
	e.turns = append(e.turns, turn)
	e.interim = ""
	e.phase = PhaseProcessing

	words := len(strings.Fields(text))
	e.emo = emotion.Analyze(text, time.Since(e.listenStart), words, e.pauseCount)
	e.pauseCount = 0

	msgs := make([]scoring.Message, 0, len(e.turns)+1)
	msgs = append(msgs, scoring.Message{Role: "assistant", Content: e.cfg.Greeting})
	for _, t := range e.turns {
		role := "user"
		if t.Speaker == SpeakerAgent {
			role = "assistant"
		}
		msgs = append(msgs, scoring.Message{Role: role, Content: t.Text})
	}
	e.mu.Unlock()

	e.metrics.RecordTurn(e.runCtx, string(SpeakerUser))
	go e.runScoring(msgs)
}

// runScoring performs one bounded scoring round trip off the loop goroutine
// and delivers the outcome back to it.
func (e *Engine) runScoring(msgs []scoring.Message) {
	ctx, cancel := context.WithTimeout(e.runCtx, e.cfg.ScoringTimeout)
	defer cancel()

	res, err := e.scorer.Score(ctx, msgs)
	select {
	case e.scoringCh <- scoringOutcome{res: res, err: err}:
	case <-e.runCtx.Done():
	}
}

func (e *Engine) onScoringResult(out scoringOutcome) {
	e.mu.Lock()
	if !e.sessionActive || e.phase != PhaseProcessing {
		// The session moved on (or ended) while the request was in flight.
		e.mu.Unlock()
		e.metrics.RecordScoringRequest(context.Background(), "stale")
		return
	}

	if out.err == nil && out.res == nil {
		out.err = errors.New("engine: scorer returned no result")
	}
	if out.err != nil {
		e.phase = PhaseListening
		e.listenStart = time.Now()
		e.mu.Unlock()
		e.log.Warn("scoring failed, returning to listening", "error", out.err)
		return
	}

	if out.res.Scores != nil {
		s := *out.res.Scores
		e.score = &s
	}
	turn := Turn{ID: e.nextTurnID, Speaker: SpeakerAgent, Text: out.res.Reply, Timestamp: time.Now()}
	e.nextTurnID++
	e.turns = append(e.turns, turn)
	e.phase = PhaseSpeaking
	e.mu.Unlock()

	e.metrics.RecordTurn(e.runCtx, string(SpeakerAgent))
	go e.speak(turn.Text)
}

func (e *Engine) speak(text string) {
	u := speech.Utterance{
		Text:  text,
		Voice: e.cfg.VoiceName,
		Rate:  e.cfg.VoiceRate,
		Pitch: e.cfg.VoicePitch,
	}
	if err := e.speech.Speak(e.runCtx, u); err != nil {
		e.log.Warn("speak failed", "error", err)
		// No playback events will arrive for this utterance; unblock the
		// turn cycle ourselves.
		e.enqueue(e.returnToListening)
	}
}

func (e *Engine) onSpeechEvent(ev speech.Event) {
	switch ev.Kind {
	case speech.EventStarted:
		// The microphone must never hear the coach.
		e.mu.Lock()
		e.playbackStart = time.Now()
		e.mu.Unlock()
		if err := e.capture.Stop(); err != nil {
			e.log.Warn("suspend capture", "error", err)
		}
	case speech.EventEnded:
		e.mu.Lock()
		if !e.playbackStart.IsZero() {
			e.metrics.PlaybackDuration.Record(e.runCtx, time.Since(e.playbackStart).Seconds())
			e.playbackStart = time.Time{}
		}
		e.mu.Unlock()
		e.returnToListening()
	case speech.EventError:
		e.log.Warn("playback error", "message", ev.Message)
		e.returnToListening()
	}
}

// returnToListening transitions back to Listening after agent playback and
// schedules the microphone resume after the turnaround delay.
func (e *Engine) returnToListening() {
	e.mu.Lock()
	if !e.sessionActive || e.phase != PhaseSpeaking {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseListening
	e.listenStart = time.Now()
	e.mu.Unlock()

	time.AfterFunc(e.cfg.ResumeDelay, func() {
		e.enqueue(e.resumeCapture)
	})
}

func (e *Engine) resumeCapture() {
	e.mu.Lock()
	ok := e.sessionActive && e.phase == PhaseListening
	e.mu.Unlock()
	if !ok {
		return
	}
	if err := e.capture.Start(e.runCtx); err != nil {
		// The session continues; the learner can still stop cleanly.
		e.log.Error("resume capture", "error", err)
	}
}

// onCaptureEnded handles a platform-initiated recognition end (for example a
// silence timeout). While the session is live and listening the engine
// restarts capture so the session feels continuous; each end also counts as
// a pause for the emotional read of the next turn.
func (e *Engine) onCaptureEnded() {
	e.mu.Lock()
	restart := e.sessionActive && e.phase == PhaseListening
	if restart {
		e.pauseCount++
	}
	e.mu.Unlock()
	if !restart {
		return
	}

	e.metrics.CaptureRestarts.Add(e.runCtx, 1)
	if err := e.capture.Start(e.runCtx); err != nil {
		e.log.Error("restart capture", "error", err)
	}
}
