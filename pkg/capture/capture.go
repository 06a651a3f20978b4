// Package capture defines the Adapter interface for streaming
// speech-recognition backends.
//
// A capture adapter wraps whatever platform actually performs the
// recognition — in the common deployment that is the learner's browser,
// bridged over a WebSocket (see the wsbridge package) — and exposes a
// uniform event-stream interface. Once started, an adapter emits interim
// and final Transcript results on a single ordered channel and signals
// platform-initiated session ends (silence timeouts, device sleep) on a
// separate channel so the caller can decide whether to restart.
//
// Implementations must be safe for concurrent use: Start and Stop may be
// called from a different goroutine than the one draining Results.
package capture

import (
	"context"
	"errors"
)

// Sentinel errors returned by [Adapter.Start]. Callers should test with
// errors.Is; implementations may wrap these with additional detail.
var (
	// ErrPermissionDenied means the platform refused microphone access.
	// The condition is user-correctable but must not be retried automatically.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrUnavailable means the platform has no speech-recognition capability
	// at all. Permanent for the device; callers should degrade gracefully.
	ErrUnavailable = errors.New("capture: speech recognition unavailable")
)

// Result is a single recognition event.
type Result struct {
	// Text is the recognised speech. For interim results this is the
	// platform's current best guess and may be revised; for final results it
	// is authoritative.
	Text string

	// Final reports whether the platform has committed to this result.
	// Interim results must never be written to the session transcript.
	Final bool
}

// Adapter is the boundary to a streaming speech-recognition capability.
// Recognition parameters such as the language tag are configured when the
// adapter is built (see wsbridge.SetLanguage), not per Start.
//
// The adapter is not reentrant while stopped mid-utterance: after Stop
// returns, any buffered platform events for the aborted utterance are
// dropped, and a fresh Start opens a new recognition pass.
type Adapter interface {
	// Start begins (or restarts) recognition. It returns
	// [ErrPermissionDenied] if the platform refuses microphone access and
	// [ErrUnavailable] if no recognition capability exists. Start may be
	// called again after Stop; the Results and Ended channels remain valid
	// across restarts for the lifetime of the adapter.
	Start(ctx context.Context) error

	// Stop halts recognition. Stopping an already-stopped adapter is a
	// no-op. Stop does not close the Results channel.
	Stop() error

	// Results returns the channel on which interim and final recognition
	// results are delivered, in platform order. The channel is closed only
	// when the adapter itself is torn down, not on Stop.
	Results() <-chan Result

	// Ended returns a channel that receives one value each time the
	// platform ends recognition on its own — typically a silence timeout.
	// Explicit Stop calls do not produce an event here; the distinction is
	// what lets callers auto-restart without fighting their own teardown.
	Ended() <-chan struct{}
}
