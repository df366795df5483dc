package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lcalzada-xor/cvemap/internal/core/services/breaker"
	"github.com/lcalzada-xor/cvemap/internal/core/services/ratelimit"
)

const defaultUserAgent = "cvemap/1.0"

// HTTPError is a non-2xx response surfaced as an error.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Client is the shared outbound HTTP plumbing every adapter wraps its calls
// with: the process-wide rate limiter, the adapter's own circuit breaker,
// and a retry policy. 5xx and transport failures retry with exponential
// backoff plus jitter; 429 honors a Retry-After hint; 4xx fails fast.
type Client struct {
	service    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *breaker.Breaker
	maxRetries int
}

// NewClient creates a client for one service name.
func NewClient(service string, limiter *ratelimit.Limiter, brk *breaker.Breaker, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		service:    service,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		breaker:    brk,
		maxRetries: 3,
	}
}

// Do executes the request with rate limiting, circuit breaking and retries.
// Requests are refused immediately while the breaker is open. The caller
// owns the response body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 15 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}
		if err := c.limiter.Acquire(ctx, c.service); err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(c.prepare(ctx, req))
		if err != nil {
			// Transport failure: retryable, counts against the breaker.
			c.breaker.RecordFailure()
			lastErr = err
		} else {
			retryable, retryAfter, respErr := c.classify(resp)
			if respErr == nil {
				return resp, nil
			}
			resp.Body.Close()
			lastErr = respErr
			if !retryable {
				return nil, respErr
			}
			if retryAfter > 0 {
				// Rate-limit hint overrides the computed backoff.
				if err := c.sleep(ctx, retryAfter); err != nil {
					return nil, err
				}
				continue
			}
		}

		if err := c.sleep(ctx, eb.NextBackOff()); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: retries exhausted: %w", c.service, lastErr)
}

// classify maps a response to (retryable, retry-after, error). Any received
// response short of a 5xx resets the breaker; 5xx counts as a failure so a
// persistently broken source trips it.
func (c *Client) classify(resp *http.Response) (bool, time.Duration, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		c.breaker.RecordSuccess()
		return false, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.breaker.RecordSuccess()
		return true, parseRetryAfter(resp), &HTTPError{StatusCode: resp.StatusCode, URL: resp.Request.URL.String()}
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
		return true, 0, &HTTPError{StatusCode: resp.StatusCode, URL: resp.Request.URL.String()}
	default:
		// 4xx: the source answered, the request is wrong. Fail fast.
		c.breaker.RecordSuccess()
		return false, 0, &HTTPError{StatusCode: resp.StatusCode, URL: resp.Request.URL.String()}
	}
}

func (c *Client) prepare(ctx context.Context, req *http.Request) *http.Request {
	r := req.Clone(ctx)
	// Restore the body for retried requests; Clone does not rewind it.
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			r.Body = body
		}
	}
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", defaultUserAgent)
	}
	return r
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// GetJSON fetches a URL and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, v interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, val := range headers {
		req.Header.Set(k, val)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}

// PostJSON posts a JSON payload and decodes the JSON response into v.
func (c *Client) PostJSON(ctx context.Context, url string, payload, v interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}

// GetBody fetches a URL and returns the raw body, capped at maxBytes.
func (c *Client) GetBody(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBytes))
}

// Breaker exposes the adapter's breaker state for health reporting.
func (c *Client) Breaker() *breaker.Breaker {
	return c.breaker
}

// Limiter exposes the shared rate limiter for status reporting.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Service returns the service name this client throttles under.
func (c *Client) Service() string {
	return c.service
}

// parseRetryAfter accepts both forms of the header: delta-seconds and an
// HTTP-date. A date in the past yields no wait.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
