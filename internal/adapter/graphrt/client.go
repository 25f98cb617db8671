// Package graphrt provides an HTTP client for the agent-graph runtime. It
// implements agentgraph.Executor over two endpoints: POST /invoke returns the
// final graph state as JSON, POST /stream_events returns newline-delimited
// raw runtime events.
package graphrt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/turnforge/internal/port/agentgraph"
	"github.com/Strob0t/turnforge/internal/resilience"
)

// maxLineSize bounds a single NDJSON event line.
const maxLineSize = 4 << 20

var _ agentgraph.Executor = (*Client)(nil)

// Client talks to the agent-graph runtime.
type Client struct {
	baseURL    string
	apiKey     string
	graphName  string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a runtime client. Requests carry no client-side timeout;
// turns are bounded by the caller's context.
func NewClient(baseURL, apiKey, graphName string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		graphName: graphName,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetBreaker attaches a circuit breaker to request setup. Only failures to
// obtain a successful response count; errors mid-stream do not.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// request is the wire body of both endpoints.
type request struct {
	Graph string           `json:"graph,omitempty"`
	Input agentgraph.Input `json:"input"`
}

// Invoke runs the turn to completion and returns the materialized result.
func (c *Client) Invoke(ctx context.Context, in agentgraph.Input) (*agentgraph.Result, error) {
	resp, err := c.open(ctx, "/invoke", in, "application/json")
	if err != nil {
		return nil, fmt.Errorf("invoke: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result agentgraph.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode invoke result: %w", err)
	}
	return &result, nil
}

// StreamEvents yields runtime events as they arrive. Blank lines are skipped;
// a malformed line ends the sequence with an error.
func (c *Client) StreamEvents(ctx context.Context, in agentgraph.Input) iter.Seq2[agentgraph.RawEvent, error] {
	return func(yield func(agentgraph.RawEvent, error) bool) {
		resp, err := c.open(ctx, "/stream_events", in, "application/x-ndjson")
		if err != nil {
			yield(agentgraph.RawEvent{}, fmt.Errorf("stream events: %w", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var ev agentgraph.RawEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				yield(agentgraph.RawEvent{}, fmt.Errorf("decode stream event: %w", err))
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			yield(agentgraph.RawEvent{}, fmt.Errorf("read stream: %w", err))
		}
	}
}

// Health checks if the runtime answers.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runtime health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("runtime health: status %d", resp.StatusCode)
	}
	return nil
}

// open posts in to path and returns the response once a 2xx status arrived.
// The caller closes the body.
func (c *Client) open(ctx context.Context, path string, in agentgraph.Input, accept string) (*http.Response, error) {
	body, err := json.Marshal(request{Graph: c.graphName, Input: in})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp *http.Response
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		if r.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			_ = r.Body.Close()
			return fmt.Errorf("runtime error %d: %s", r.StatusCode, string(data))
		}
		resp = r
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return resp, nil
	}
	if err := call(); err != nil {
		return nil, err
	}
	return resp, nil
}
