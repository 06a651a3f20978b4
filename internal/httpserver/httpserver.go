// Package httpserver exposes the FluentLoop HTTP surface: the practice
// WebSocket, the live-analysis view, probes and metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fluentloop/fluentloop/internal/analysis"
	"github.com/fluentloop/fluentloop/internal/app"
	"github.com/fluentloop/fluentloop/internal/config"
	"github.com/fluentloop/fluentloop/internal/engine"
	"github.com/fluentloop/fluentloop/internal/health"
	"github.com/fluentloop/fluentloop/pkg/wsbridge"
)

// shutdownTimeout bounds graceful shutdown once the run context is cancelled.
const shutdownTimeout = 10 * time.Second

// Server is the FluentLoop HTTP server.
type Server struct {
	cfg      config.ServerConfig
	language string
	manager  *app.Manager
	log      *slog.Logger
	httpSrv  *http.Server
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, language string, manager *app.Manager, probes *health.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		language: language,
		manager:  manager,
		log:      logger.With("component", "httpserver"),
	}

	mux := http.NewServeMux()
	probes.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/practice", s.handlePractice)
	mux.HandleFunc("GET /v1/sessions/{user}", s.handleSessionView)
	mux.HandleFunc("DELETE /v1/sessions/{user}", s.handleStopSession)

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully: in-flight
// requests get shutdownTimeout to finish and every live session is stopped
// so its usage write lands.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)
		var err error
		if s.cfg.TLS != nil {
			err = s.httpSrv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpserver: serve: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")

		sdCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.manager.StopAll(sdCtx)
		if err := s.httpSrv.Shutdown(sdCtx); err != nil {
			return fmt.Errorf("httpserver: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// handlePractice upgrades to a WebSocket, starts a session on the bridge's
// adapters, and holds the connection until the client leaves or the session
// ends.
func (s *Server) handlePractice(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "missing user query parameter", http.StatusBadRequest)
		return
	}

	bridge, err := wsbridge.Accept(r.Context(), w, r)
	if err != nil {
		s.log.Warn("practice upgrade failed", "user", user, "error", err)
		return
	}
	defer bridge.Close()
	if !bridge.Recognition() || !bridge.Synthesis() {
		s.log.Warn("client lacks speech capability", "user", user,
			"recognition", bridge.Recognition(), "synthesis", bridge.Synthesis())
		bridge.Refuse("capability_unavailable",
			"Your device must support both speech recognition and synthesis to practice.")
		return
	}
	bridge.SetLanguage(s.language)

	// The session must not die with the request context: stop is explicit.
	_, err = s.manager.StartSession(context.WithoutCancel(r.Context()), user, bridge.Capture(), bridge.Speech())
	if err != nil {
		s.log.Warn("session refused", "user", user, "reason", err)
		bridge.Refuse(refusalFor(err))
		return
	}
	defer func() {
		if err := s.manager.StopSession(context.WithoutCancel(r.Context()), user); err != nil && !errors.Is(err, app.ErrNoSession) {
			s.log.Warn("stop session", "user", user, "error", err)
		}
	}()

	select {
	case <-bridge.Done():
		s.log.Info("client disconnected", "user", user)
	case <-r.Context().Done():
	}
}

// refusalFor maps a session start failure to the code and user-facing
// message the client receives before the connection closes.
func refusalFor(err error) (code, msg string) {
	switch {
	case errors.Is(err, engine.ErrQuotaExhausted):
		return "quota_exhausted", "You've used all of today's practice time. Come back tomorrow!"
	case errors.Is(err, engine.ErrPermissionDenied):
		return "permission_denied", "Microphone access was denied. Allow it in your browser and try again."
	case errors.Is(err, engine.ErrCapabilityUnavailable):
		return "capability_unavailable", "Your device does not support speech recognition."
	case errors.Is(err, app.ErrSessionActive):
		return "session_active", "You already have a practice session running."
	default:
		return "session_failed", "The session could not be started. Please try again."
	}
}

// handleSessionView serves the live-analysis projection of a session.
func (s *Server) handleSessionView(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	snap, err := s.manager.Snapshot(user)
	if errors.Is(err, app.ErrNoSession) {
		http.Error(w, "no session for user", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(analysis.Project(snap)); err != nil {
		s.log.Warn("encode session view", "user", user, "error", err)
	}
}

// handleStopSession ends a session from the REST side, for clients that lose
// the socket but still want a clean stop.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	err := s.manager.StopSession(r.Context(), user)
	switch {
	case errors.Is(err, app.ErrNoSession):
		http.Error(w, "no session for user", http.StatusNotFound)
	case err != nil:
		s.log.Warn("stop session", "user", user, "error", err)
		http.Error(w, "failed to stop session", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
