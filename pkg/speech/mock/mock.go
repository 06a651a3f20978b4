// Package mock provides test doubles for the speech package interfaces.
//
// Tests send playback lifecycle events on EventsCh to simulate the platform
// and inspect SpeakCalls to assert what the engine asked to be spoken.
package mock

import (
	"context"
	"sync"

	"github.com/fluentloop/fluentloop/pkg/speech"
)

// SpeakCall records a single invocation of Adapter.Speak.
type SpeakCall struct {
	// Utterance is the utterance passed to Speak.
	Utterance speech.Utterance
}

// Adapter is a mock implementation of speech.Adapter.
type Adapter struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Tests own this channel.
	EventsCh chan speech.Event

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// CancelErr, if non-nil, is returned by every Cancel call.
	CancelErr error

	// SpeakCalls records every call to Speak in order.
	SpeakCalls []SpeakCall

	// CancelCalls counts Cancel invocations.
	CancelCalls int
}

// NewAdapter returns a mock with a buffered EventsCh ready for use.
func NewAdapter() *Adapter {
	return &Adapter{EventsCh: make(chan speech.Event, 16)}
}

// Speak records the call and returns SpeakErr.
func (a *Adapter) Speak(_ context.Context, u speech.Utterance) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SpeakCalls = append(a.SpeakCalls, SpeakCall{Utterance: u})
	return a.SpeakErr
}

// Cancel records the call and returns CancelErr.
func (a *Adapter) Cancel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CancelCalls++
	return a.CancelErr
}

// Events returns EventsCh.
func (a *Adapter) Events() <-chan speech.Event { return a.EventsCh }

// SpeakCallCount returns the number of Speak calls. Thread-safe.
func (a *Adapter) SpeakCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.SpeakCalls)
}

// LastSpoken returns the text of the most recent Speak call, or "" if none.
// Thread-safe.
func (a *Adapter) LastSpoken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.SpeakCalls) == 0 {
		return ""
	}
	return a.SpeakCalls[len(a.SpeakCalls)-1].Utterance.Text
}

// CancelCallCount returns the number of Cancel calls. Thread-safe.
func (a *Adapter) CancelCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CancelCalls
}

// Ensure Adapter implements speech.Adapter at compile time.
var _ speech.Adapter = (*Adapter)(nil)
