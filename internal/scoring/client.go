// Package scoring provides the client for the remote scoring and reply
// endpoint.
//
// The endpoint is an opaque service: it receives the full conversation so
// far and returns the coach's next utterance, optionally accompanied by a
// live multi-axis score snapshot. The engine treats the service as a black
// box with exactly this contract; nothing in this package interprets the
// returned text.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluentloop/fluentloop/internal/observe"
)

// Message is one conversation entry sent to the scoring endpoint,
// oldest-first. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Scores is the multi-axis assessment snapshot returned by the endpoint.
// All axes are 0–100.
type Scores struct {
	Fluency       int      `json:"fluency"`
	Vocabulary    int      `json:"vocabulary"`
	Grammar       int      `json:"grammar"`
	Pronunciation int      `json:"pronunciation"`
	Overall       int      `json:"overall"`
	Mistakes      []string `json:"mistakes"`
}

// Result is a successful scoring response.
type Result struct {
	// Reply is the coach's next utterance.
	Reply string

	// Scores is the latest assessment, or nil when the endpoint chose not to
	// re-score this exchange. Nil means "keep the previous snapshot", never
	// "reset to zero".
	Scores *Scores
}

// Client is the abstraction over the scoring endpoint. The engine depends on
// this interface; tests substitute a mock.
type Client interface {
	// Score submits the conversation and returns the reply plus optional
	// score snapshot. The call respects ctx cancellation and deadline.
	Score(ctx context.Context, messages []Message) (*Result, error)
}

// request is the wire request body.
type request struct {
	Action   string    `json:"action"`
	Messages []Message `json:"messages"`
}

// response is the wire response body.
type response struct {
	Response string  `json:"response"`
	Scores   *Scores `json:"scores,omitempty"`
}

// Option is a functional option for configuring the HTTP client.
type Option func(*HTTPClient)

// WithHTTPClient substitutes the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithMetrics attaches a metrics instance for request counters and latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *HTTPClient) { c.metrics = m }
}

// HTTPClient implements [Client] against an HTTP scoring endpoint.
// Safe for concurrent use.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	metrics    *observe.Metrics
}

// Compile-time assertion that HTTPClient satisfies the Client interface.
var _ Client = (*HTTPClient)(nil)

// New creates an HTTP scoring client. endpoint must be non-empty; apiKey is
// sent as a Bearer token when non-empty.
func New(endpoint, apiKey string, opts ...Option) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("scoring: endpoint must not be empty")
	}
	c := &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Score implements [Client]. The caller bounds the round trip via ctx; no
// additional timeout is applied here.
func (c *HTTPClient) Score(ctx context.Context, messages []Message) (*Result, error) {
	body, err := json.Marshal(request{Action: "chat", Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("scoring: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scoring: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.ScoringDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		c.recordStatus(ctx, "error")
		return nil, fmt.Errorf("scoring: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recordStatus(ctx, "error")
		// Bounded read keeps error messages useful without trusting the body size.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scoring: endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var wire response
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		c.recordStatus(ctx, "error")
		return nil, fmt.Errorf("scoring: decode response: %w", err)
	}

	c.recordStatus(ctx, "ok")
	return &Result{Reply: wire.Response, Scores: wire.Scores}, nil
}

func (c *HTTPClient) recordStatus(ctx context.Context, status string) {
	if c.metrics != nil {
		c.metrics.RecordScoringRequest(ctx, status)
	}
}
