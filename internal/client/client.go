// Package client is the thin HTTP layer over the autocomplete lookup API.
// The engine treats it as an opaque fetch capability: it returns matched
// names, ErrThrottled on a 429, or a TransientError for anything else.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrThrottled signals the API told us to slow down. It is always retried
// with backoff and never counted against the bounded failure budget.
var ErrThrottled = errors.New("rate limited")

// TransientError wraps transport, parse, and unexpected-status failures.
// These are retried a bounded number of times.
type TransientError struct {
	Query      string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %q: status %d", e.Query, e.StatusCode)
	}
	return fmt.Sprintf("fetch %q: %v", e.Query, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Client fetches autocomplete results for one API version.
type Client struct {
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, version string) *Client {
	return &Client{
		BaseURL: baseURL,
		Version: version,
		Timeout: 10 * time.Second,
	}
}

type envelope struct {
	Version string   `json:"version"`
	Count   int      `json:"count"`
	Results []string `json:"results"`
}

// Fetch returns the names matched by query. The query is URL-escaped, so
// alphabets containing '+' or space travel correctly on the wire.
func (c *Client) Fetch(ctx context.Context, query string) ([]string, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	endpoint := fmt.Sprintf("%s/%s/autocomplete?query=%s", c.base(), url.PathEscape(c.Version), url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransientError{Query: query, Err: err}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Query: query, Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrThrottled
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, &TransientError{Query: query, StatusCode: resp.StatusCode}
	}
	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &TransientError{Query: query, Err: fmt.Errorf("decode response: %w", err)}
	}
	return body.Results, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
