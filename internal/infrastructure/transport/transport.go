// Package transport issues single outbound HTTP calls with a per-call
// timeout. It carries no retry logic of its own; classification and retry
// live with the caller.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxResponseSize is the maximum allowed response size from an external
// API (10MB).
const maxResponseSize = 10 * 1024 * 1024

// errorSnippetSize bounds how much of an error body is kept for messages.
const errorSnippetSize = 512

// Error is a non-2xx response from the remote service.
type Error struct {
	StatusCode int
	Snippet    string
	// RetryAfter is the parsed Retry-After hint on 429 responses, zero
	// when absent.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("remote returned HTTP %d: %s", e.StatusCode, e.Snippet)
	}
	return fmt.Sprintf("remote returned HTTP %d", e.StatusCode)
}

// Request describes one outbound call. Body, when non-nil, is JSON
// encoded.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   any
}

// Response is the raw settled result of one call.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON decodes the response body into a generic map.
func (r *Response) JSON() (map[string]any, error) {
	if len(r.Body) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(r.Body, &data); err != nil {
		return nil, fmt.Errorf("transport: response is not a JSON object: %w", err)
	}
	return data, nil
}

// Transport performs single HTTP calls under a fixed per-call timeout.
type Transport struct {
	client *http.Client
}

// New creates a Transport whose calls time out after the given duration.
func New(timeout time.Duration) *Transport {
	return &Transport{
		client: &http.Client{Timeout: timeout},
	}
}

// Do executes exactly one call. Non-2xx statuses are returned as *Error;
// network and timeout failures pass through for the caller to classify.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = target + sep + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("transport: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Snippet:    snippet(raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorSnippetSize {
		s = s[:errorSnippetSize]
	}
	return s
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
