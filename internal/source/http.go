package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBytes caps a fetched document.
const DefaultMaxBytes = 4 << 20

// HTTPLoader fetches documents with GET. Non-2xx responses are errors.
//
// Example:
//
//	l := source.NewHTTPLoader(source.WithHeader("Authorization", "Bearer "+token))
//	text, err := l.Load(ctx, "https://docs.example.com/interviews/cfo.txt")
type HTTPLoader struct {
	client   *http.Client
	headers  http.Header
	maxBytes int64
}

// HTTPOption configures an HTTPLoader.
type HTTPOption func(*HTTPLoader)

// WithHeader adds a request header sent on every fetch.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPLoader) { h.headers.Add(key, value) }
}

// WithClient replaces the HTTP client. Timeouts come from ctx otherwise.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTPLoader) { h.client = c }
}

// WithMaxBytes caps the response body. Longer documents are rejected.
func WithMaxBytes(n int64) HTTPOption {
	return func(h *HTTPLoader) { h.maxBytes = n }
}

// NewHTTPLoader returns an HTTPLoader using http.DefaultClient.
func NewHTTPLoader(opts ...HTTPOption) *HTTPLoader {
	h := &HTTPLoader{
		client:   http.DefaultClient,
		headers:  make(http.Header),
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Loader.
func (h *HTTPLoader) Name() string { return "http" }

// Load implements Loader.
func (h *HTTPLoader) Load(ctx context.Context, ref string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range h.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "text/plain, text/markdown;q=0.9, */*;q=0.1")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > h.maxBytes {
		return "", fmt.Errorf("document exceeds %d bytes", h.maxBytes)
	}
	return string(body), nil
}
