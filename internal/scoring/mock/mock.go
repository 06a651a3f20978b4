// Package mock provides a test double for the scoring.Client interface.
//
// Results are served from a FIFO queue; when the queue is empty the mock
// falls back to Result/Err. Set Gate to a channel to make Score block until
// the test releases it — useful for exercising in-flight cancellation and
// re-entrancy guards.
package mock

import (
	"context"
	"sync"

	"github.com/fluentloop/fluentloop/internal/scoring"
)

// ScoreCall records a single invocation of Client.Score.
type ScoreCall struct {
	// Messages is a copy of the conversation passed to Score.
	Messages []scoring.Message
}

// Client is a mock implementation of scoring.Client.
type Client struct {
	mu sync.Mutex

	// Queue holds results returned in order, one per call. When exhausted,
	// Result/Err are used instead.
	Queue []*scoring.Result

	// Result is the fallback result returned once Queue is empty.
	Result *scoring.Result

	// Err, if non-nil, is returned by Score after recording the call
	// (Queue and Result are ignored).
	Err error

	// Gate, when non-nil, blocks each Score call until the channel is
	// closed or receives a value, or ctx is cancelled.
	Gate chan struct{}

	// ScoreCalls records every call to Score in order.
	ScoreCalls []ScoreCall
}

// Score records the call, waits on Gate if set, and returns the next result.
func (c *Client) Score(ctx context.Context, messages []scoring.Message) (*scoring.Result, error) {
	c.mu.Lock()
	cp := make([]scoring.Message, len(messages))
	copy(cp, messages)
	c.ScoreCalls = append(c.ScoreCalls, ScoreCall{Messages: cp})
	gate := c.Gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.Queue) > 0 {
		res := c.Queue[0]
		c.Queue = c.Queue[1:]
		return res, nil
	}
	return c.Result, nil
}

// ScoreCallCount returns the number of Score calls. Thread-safe.
func (c *Client) ScoreCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ScoreCalls)
}

// LastMessages returns the messages of the most recent call, or nil.
// Thread-safe.
func (c *Client) LastMessages() []scoring.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ScoreCalls) == 0 {
		return nil
	}
	return c.ScoreCalls[len(c.ScoreCalls)-1].Messages
}

// Ensure Client implements scoring.Client at compile time.
var _ scoring.Client = (*Client)(nil)
