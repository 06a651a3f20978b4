// Package app wires configuration and providers into running practice
// sessions and enforces the one-active-session-per-user rule.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fluentloop/fluentloop/internal/config"
	"github.com/fluentloop/fluentloop/internal/engine"
	"github.com/fluentloop/fluentloop/internal/observe"
	"github.com/fluentloop/fluentloop/internal/quota"
	"github.com/fluentloop/fluentloop/internal/scoring"
	"github.com/fluentloop/fluentloop/pkg/capture"
	"github.com/fluentloop/fluentloop/pkg/speech"
)

// ErrSessionActive is returned by StartSession when the user already has a
// live session.
var ErrSessionActive = errors.New("app: user already has an active session")

// ErrNoSession is returned by lookups for users without a session.
var ErrNoSession = errors.New("app: no session for user")

// Deps holds the long-lived collaborators sessions are built from.
type Deps struct {
	Store   quota.Store
	Scorer  scoring.Client
	Logger  *slog.Logger
	Metrics *observe.Metrics

	// Session is the per-session configuration applied to every engine.
	Session config.SessionConfig

	// DailyAllowanceSeconds is each user's practice budget. Default 600.
	DailyAllowanceSeconds int64
}

// Manager owns at most one live practice session per user.
type Manager struct {
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*engine.Engine
}

// NewManager creates a Manager. Store and Scorer are required.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Scorer == nil {
		return nil, fmt.Errorf("app: store and scorer are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DailyAllowanceSeconds <= 0 {
		deps.DailyAllowanceSeconds = 600
	}
	return &Manager{
		deps:     deps,
		log:      deps.Logger.With("component", "app"),
		sessions: make(map[string]*engine.Engine),
	}, nil
}

// StartSession builds and starts an engine for userID on the given adapters.
// A user may hold only one live session; an ended session is replaced.
func (m *Manager) StartSession(ctx context.Context, userID string, capt capture.Adapter, spk speech.Adapter) (*engine.Engine, error) {
	if userID == "" {
		return nil, fmt.Errorf("app: user id is required")
	}

	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		if s.Snapshot().Phase != engine.PhaseEnded {
			m.mu.Unlock()
			return nil, ErrSessionActive
		}
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	e, err := engine.New(capt, spk, m.deps.Scorer, m.deps.Store, engine.Config{
		UserID:                userID,
		Greeting:              m.deps.Session.Greeting,
		DailyAllowanceSeconds: m.deps.DailyAllowanceSeconds,
		ScoringTimeout:        m.deps.Session.ScoringTimeout.Std(),
		ResumeDelay:           m.deps.Session.ResumeDelay.Std(),
		VoiceName:             m.deps.Session.Voice.Name,
		VoiceRate:             m.deps.Session.Voice.Rate,
		VoicePitch:            m.deps.Session.Voice.Pitch,
		Logger:                m.deps.Logger,
		Metrics:               m.deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[userID] = e
	m.mu.Unlock()

	m.log.Info("session opened", "user", userID)
	return e, nil
}

// StopSession ends userID's session and forgets it.
func (m *Manager) StopSession(ctx context.Context, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	m.log.Info("session closed", "user", userID)
	return s.Stop(ctx)
}

// Snapshot returns the current state of userID's session.
func (m *Manager) Snapshot(userID string) (engine.Snapshot, error) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return engine.Snapshot{}, ErrNoSession
	}
	return s.Snapshot(), nil
}

// StopAll ends every live session. Used during server shutdown so all
// pending quota writes land before the process exits.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make(map[string]*engine.Engine, len(m.sessions))
	for id, s := range m.sessions {
		sessions[id] = s
	}
	m.sessions = make(map[string]*engine.Engine)
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			m.log.Warn("stop session during shutdown", "user", id, "error", err)
		}
	}
}
