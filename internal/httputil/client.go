// Package httputil provides the HTTP client used for upstream APIs (image
// provider, payment gateway, mail relay) and JSON response helpers.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// Upstream Client
// =============================================================================

// Client is a JSON HTTP client bound to one upstream base URL. Each request is
// decorated with the upstream's credentials. Idempotent requests are retried
// on transient failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	decorate   func(*http.Request)
	maxRetries int
	backoff    time.Duration
}

// ClientConfig configures the client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	// Decorate sets per-request headers such as API keys or basic auth.
	Decorate func(*http.Request)
	// HTTPClient overrides the underlying client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// NewClient creates a new upstream client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		decorate:   cfg.Decorate,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Do executes a request against baseURL+path. A non-nil body is sent as JSON.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = encoded
	}
	return c.doWithRetry(ctx, method, c.baseURL+path, payload, true, 0)
}

// Fetch GETs an absolute URL without upstream credentials. It is used for
// CDN-hosted assets referenced by an API response.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	return c.doWithRetry(ctx, http.MethodGet, rawURL, nil, false, 0)
}

func (c *Client) doWithRetry(ctx context.Context, method, url string, payload []byte, decorate bool, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if decorate && c.decorate != nil {
		c.decorate(req)
	}

	resp, err := c.httpClient.Do(req)
	retryable := idempotent(method) && attempt < c.maxRetries && ctx.Err() == nil
	if err != nil {
		if retryable {
			if waitErr := c.wait(ctx, attempt); waitErr == nil {
				return c.doWithRetry(ctx, method, url, payload, decorate, attempt+1)
			}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if retryable && transientStatus(resp.StatusCode) {
		drain(resp)
		if waitErr := c.wait(ctx, attempt); waitErr != nil {
			return nil, fmt.Errorf("request failed: %w", waitErr)
		}
		return c.doWithRetry(ctx, method, url, payload, decorate, attempt+1)
	}

	return resp, nil
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// StatusError is returned by DecodeResponse for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	body, err := ReadResponse(resp)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ReadResponse returns the raw body of a successful response and closes it.
// Non-2xx responses become a *StatusError carrying a truncated body.
func ReadResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return nil, fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
