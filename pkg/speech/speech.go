// Package speech defines the Adapter interface for text-to-speech playback.
//
// A speech adapter wraps the platform that actually renders audio — the
// learner's browser synthesizer in the common deployment, bridged over a
// WebSocket — and exposes a start/cancel interface with an event stream
// reporting playback lifecycle. Exactly one utterance plays at a time
// process-wide on the underlying platform; the caller is responsible for
// the cancel-before-speak discipline rather than assuming the platform
// queues or rejects overlapping utterances.
//
// Implementations must be safe for concurrent use.
package speech

import "context"

// EventKind identifies a playback lifecycle event.
type EventKind int

const (
	// EventStarted fires when audible playback of an utterance begins.
	EventStarted EventKind = iota

	// EventEnded fires when playback finishes naturally. A cancelled
	// utterance produces no EventEnded on some platforms and a spurious one
	// on others; consumers must tolerate both.
	EventEnded

	// EventError fires when the platform fails to render the utterance.
	EventError
)

// String returns the lowercase name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is a single playback lifecycle notification.
type Event struct {
	Kind EventKind

	// Message carries platform error detail for EventError, empty otherwise.
	Message string
}

// Utterance is one piece of text to speak, with voice shaping parameters.
type Utterance struct {
	// Text is the plain text to render. Markup is not supported.
	Text string

	// Voice selects a platform voice by name. Empty uses the platform default.
	Voice string

	// Rate adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	Rate float64

	// Pitch adjusts pitch in the range [0.5, 2.0]. 0 means default.
	Pitch float64
}

// Adapter is the boundary to a text-to-speech capability.
type Adapter interface {
	// Speak submits one utterance for playback. Speak returns once the
	// utterance is accepted by the platform; playback progress arrives on
	// Events. Submitting while another utterance is playing is undefined —
	// callers must Cancel first.
	Speak(ctx context.Context, u Utterance) error

	// Cancel aborts any in-flight or queued playback immediately.
	// Cancelling when nothing is playing is a no-op.
	Cancel() error

	// Events returns the channel delivering playback lifecycle events in
	// order. The channel is closed only when the adapter is torn down.
	Events() <-chan Event
}
