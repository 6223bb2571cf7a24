// Package outbound is the JSON HTTP client shared by the notification,
// issue-tracker and webhook actions.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultMaxErrorBody = 512

// Client sends JSON requests to a base URL with optional bearer auth and
// bounded retry on 429 and 5xx responses.
type Client struct {
	baseURL    string
	token      string
	headers    map[string]string
	httpClient *http.Client
	maxRetries int
	maxErrBody int
	backoff    func(attempt int) time.Duration
}

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying client, e.g. with a guarded one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithMaxErrorBody caps how much of a non-2xx response body is kept in APIError.
func WithMaxErrorBody(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxErrBody = n
		}
	}
}

func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(c *Client) {
		c.backoff = fn
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		headers:    map[string]string{},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		maxErrBody: defaultMaxErrorBody,
		backoff:    exponentialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, dest any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, nil, dest)
}

func (c *Client) PostJSON(ctx context.Context, path string, body, dest any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, nil, dest)
}

// Do sends one request, retrying 429 (honoring Retry-After) and 5xx
// responses up to the configured limit. Transport errors are not retried.
// A nil dest discards the response body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string, dest any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = data
	}

	var lastErr *APIError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.retryDelay(attempt, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return redactURL(err, method, req.URL.Host)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if dest == nil || len(bytes.TrimSpace(data)) == 0 {
				return nil
			}
			return json.Unmarshal(data, dest)
		}

		bodyStr := string(data)
		if len(bodyStr) > c.maxErrBody {
			bodyStr = bodyStr[:c.maxErrBody]
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = apiErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = apiErr
			continue
		}
		return apiErr
	}
	return lastErr
}

// redactURL drops the request URL from transport errors. Paths and queries
// may carry credentials such as bot tokens.
func redactURL(err error, method, host string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s %s: %w", method, host, uerr.Err)
	}
	return err
}

func (c *Client) retryDelay(attempt int, lastErr *APIError) time.Duration {
	if lastErr != nil && lastErr.StatusCode == http.StatusTooManyRequests && lastErr.retryAfter != "" {
		if secs, err := strconv.Atoi(lastErr.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff(attempt)
}

// 1s, 2s, 4s
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}
