// Package mock provides test doubles for the capture package interfaces.
//
// Pre-populate ResultsCh and EndedCh with the events the consumer should
// receive, then drive the test by sending on them. Call records let tests
// assert how often the engine started and stopped recognition.
//
// Example:
//
//	a := mock.NewAdapter()
//	// ... hand a to the engine ...
//	a.ResultsCh <- capture.Result{Text: "hello there", Final: true}
package mock

import (
	"context"
	"sync"

	"github.com/fluentloop/fluentloop/pkg/capture"
)

// Adapter is a mock implementation of capture.Adapter.
type Adapter struct {
	mu sync.Mutex

	// ResultsCh is the channel returned by Results(). Tests own this channel
	// and are responsible for sending to it.
	ResultsCh chan capture.Result

	// EndedCh is the channel returned by Ended(). Tests send one value per
	// simulated platform-initiated recognition end.
	EndedCh chan struct{}

	// StartErr, if non-nil, is returned by every Start call.
	StartErr error

	// StopErr, if non-nil, is returned by every Stop call.
	StopErr error

	// StartCalls counts Start invocations.
	StartCalls int

	// StopCalls counts Stop invocations.
	StopCalls int

	// started mirrors the adapter's running state for Running().
	started bool
}

// NewAdapter returns a mock with buffered ResultsCh and EndedCh ready for use.
func NewAdapter() *Adapter {
	return &Adapter{
		ResultsCh: make(chan capture.Result, 16),
		EndedCh:   make(chan struct{}, 4),
	}
}

// Start records the call and returns StartErr.
func (a *Adapter) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StartCalls++
	if a.StartErr != nil {
		return a.StartErr
	}
	a.started = true
	return nil
}

// Stop records the call and returns StopErr.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StopCalls++
	if a.StopErr != nil {
		return a.StopErr
	}
	a.started = false
	return nil
}

// Results returns ResultsCh.
func (a *Adapter) Results() <-chan capture.Result { return a.ResultsCh }

// Ended returns EndedCh.
func (a *Adapter) Ended() <-chan struct{} { return a.EndedCh }

// Running reports whether the last Start/Stop left the adapter running.
// Thread-safe.
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// StartCallCount returns the number of Start calls. Thread-safe.
func (a *Adapter) StartCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StartCalls
}

// StopCallCount returns the number of Stop calls. Thread-safe.
func (a *Adapter) StopCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.StopCalls
}

// Ensure Adapter implements capture.Adapter at compile time.
var _ capture.Adapter = (*Adapter)(nil)
