// Package upstream wraps outbound HTTP calls (archive downloads, the
// mass-balance simulation service) with retries and a circuit breaker.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open; upstream unavailable")

// RetryPolicy configures the retry behavior for the Client.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy starts at 200ms and doubles up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 4,
		MinWait:    200 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// StatusError reports a non-success response after retries.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream returned %d", e.URL, e.StatusCode)
}

// StreamingHTTPClient returns a client for large downloads. Connection setup
// and the wait for response headers are bounded; reading the body is not,
// so a slow multi-gigabyte transfer is never cut off by a deadline.
func StreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          4,
		},
	}
}

// Client wraps an *http.Client and a circuit breaker.
type Client struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	sleepFn   func(context.Context, time.Duration) bool

	settings      gobreaker.Settings
	transportOnly bool
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithSleepFunc overrides the wait between retries. The function returns
// false when the context ended during the wait.
func WithSleepFunc(fn func(context.Context, time.Duration) bool) Option {
	return func(c *Client) {
		c.sleepFn = fn
	}
}

// WithBreakerSettings replaces the default breaker settings.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.settings = st
	}
}

// WithTransportFailuresOnly keeps error statuses out of the breaker counts:
// they are still retried and returned, but only network failures can open
// the circuit. Use it when a status reflects the request rather than the
// health of the upstream.
func WithTransportFailuresOnly() Option {
	return func(c *Client) {
		c.transportOnly = true
	}
}

func isTransportSuccess(err error) bool {
	var se *StatusError
	return err == nil || errors.As(err, &se)
}

// New creates a Client. A nil httpClient uses a client with a 5 minute
// timeout, which also bounds reading the body; large downloads should pass
// StreamingHTTPClient instead.
func New(httpClient *http.Client, breakerName string, policy RetryPolicy, userAgent string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	c := &Client{
		client: httpClient,
		settings: gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
		policy:    policy,
		userAgent: userAgent,
		sleepFn:   sleepWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transportOnly {
		c.settings.IsSuccessful = isTransportSuccess
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](c.settings)
	return c
}

// Do executes req, retrying network errors, 429 and 5xx responses with
// exponential backoff. Other responses are returned as-is; the caller
// closes the body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the request body so we can replay it on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	ctx := req.Context()
	wait := c.policy.MinWait
	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				_ = r.Body.Close()
				return r, &StatusError{URL: req.URL.String(), StatusCode: r.StatusCode}
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", req.URL, ErrCircuitOpen)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err

		if attempt == c.policy.MaxRetries {
			break
		}
		d := wait
		if resp != nil {
			if ra := retryAfter(resp); ra > 0 {
				d = min(ra, c.policy.MaxWait)
			}
		}
		if !c.sleepFn(ctx, d) {
			return nil, ctx.Err()
		}
		wait = nextBackoff(wait, c.policy.MaxWait)
	}
	return nil, fmt.Errorf("upstream request failed after %d attempts: %w", c.policy.MaxRetries+1, lastErr)
}

// State reports the breaker state, for logging.
func (c *Client) State() string {
	return c.breaker.State().String()
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if seconds, err := strconv.Atoi(s); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
