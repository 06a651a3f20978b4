package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fluentloop/fluentloop/internal/app"
	"github.com/fluentloop/fluentloop/internal/engine"
	"github.com/fluentloop/fluentloop/internal/quota"
	"github.com/fluentloop/fluentloop/internal/scoring"
	scmock "github.com/fluentloop/fluentloop/internal/scoring/mock"
	capmock "github.com/fluentloop/fluentloop/pkg/capture/mock"
	spkmock "github.com/fluentloop/fluentloop/pkg/speech/mock"
)

func newManager(t *testing.T) (*app.Manager, *quota.MemoryStore) {
	t.Helper()

	store := quota.NewMemoryStore()
	m, err := app.NewManager(app.Deps{
		Store:  store,
		Scorer: &scmock.Client{Result: &scoring.Result{Reply: "ok"}},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.StopAll(context.Background()) })
	return m, store
}

func TestStartSession_OnePerUser(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	ctx := context.Background()

	if _, err := m.StartSession(ctx, "u1", capmock.NewAdapter(), spkmock.NewAdapter()); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}

	_, err := m.StartSession(ctx, "u1", capmock.NewAdapter(), spkmock.NewAdapter())
	if !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second StartSession: want ErrSessionActive, got %v", err)
	}

	// A different user is unaffected.
	if _, err := m.StartSession(ctx, "u2", capmock.NewAdapter(), spkmock.NewAdapter()); err != nil {
		t.Fatalf("other user StartSession: %v", err)
	}
}

func TestStartSession_EndedSessionIsReplaced(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	ctx := context.Background()

	e, err := m.StartSession(ctx, "u1", capmock.NewAdapter(), spkmock.NewAdapter())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The manager still remembers the session, but it is over.
	if _, err := m.StartSession(ctx, "u1", capmock.NewAdapter(), spkmock.NewAdapter()); err != nil {
		t.Fatalf("restart after end: %v", err)
	}
}

func TestStopSession(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	ctx := context.Background()

	e, err := m.StartSession(ctx, "u1", capmock.NewAdapter(), spkmock.NewAdapter())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := m.StopSession(ctx, "u1"); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if p := e.Snapshot().Phase; p != engine.PhaseEnded {
		t.Errorf("phase: want ended, got %s", p)
	}
	if err := m.StopSession(ctx, "u1"); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("second StopSession: want ErrNoSession, got %v", err)
	}
	if _, err := m.Snapshot("u1"); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("Snapshot after stop: want ErrNoSession, got %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	ctx := context.Background()

	if _, err := m.Snapshot("u1"); !errors.Is(err, app.ErrNoSession) {
		t.Fatalf("Snapshot before start: want ErrNoSession, got %v", err)
	}

	if _, err := m.StartSession(ctx, "u1", capmock.NewAdapter(), spkmock.NewAdapter()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	snap, err := m.Snapshot("u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Phase == engine.PhaseIdle || snap.Phase == engine.PhaseEnded {
		t.Errorf("phase: want a live phase, got %s", snap.Phase)
	}
}

func TestStopAll_PersistsUsage(t *testing.T) {
	t.Parallel()
	m, store := newManager(t)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		e, err := m.StartSession(ctx, user, capmock.NewAdapter(), spkmock.NewAdapter())
		if err != nil {
			t.Fatalf("StartSession(%s): %v", user, err)
		}
		// Let the quota clock tick at least once.
		waitElapsed(t, e)
	}

	m.StopAll(ctx)

	for _, user := range []string{"u1", "u2"} {
		consumed, err := store.Consumed(ctx, user, time.Now())
		if err != nil {
			t.Fatalf("Consumed(%s): %v", user, err)
		}
		if consumed == 0 {
			t.Errorf("usage for %s not persisted on StopAll", user)
		}
		if _, err := m.Snapshot(user); !errors.Is(err, app.ErrNoSession) {
			t.Errorf("Snapshot(%s) after StopAll: want ErrNoSession, got %v", user, err)
		}
	}
}

func waitElapsed(t *testing.T, e *engine.Engine) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.Snapshot().ElapsedSeconds > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("quota clock never ticked")
}
