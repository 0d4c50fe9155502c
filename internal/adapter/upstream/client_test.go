package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) bool {
	r.waits = append(r.waits, d)
	return true
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer server.Close()

	rec := &recordingSleep{}
	c := New(server.Client(), "test", DefaultRetryPolicy(), "glacierunc-test", WithSleepFunc(rec.sleep))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "payload", string(body), "body is replayed on retry")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, rec.waits)
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(server.Client(), "test", DefaultRetryPolicy(), "", WithSleepFunc((&recordingSleep{}).sleep))
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(server.Client(), "test", RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond}, "",
		WithSleepFunc((&recordingSleep{}).sleep))
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := c.Do(req)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func TestDo_BreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.Client(), "test", RetryPolicy{MaxRetries: 0}, "",
		WithBreakerSettings(gobreaker.Settings{
			Name:        "trip-fast",
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 2 },
			Timeout:     time.Minute,
		}))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err := c.Do(req)
		require.Error(t, err)
	}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := c.Do(req)
	assert.True(t, errors.Is(err, ErrCircuitOpen), "got %v", err)
	assert.Equal(t, "open", c.State())
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(server.Client(), "test", DefaultRetryPolicy(), "", WithSleepFunc(func(context.Context, time.Duration) bool {
		cancel()
		return false
	}))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err := c.Do(req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_TransportFailuresOnlyIgnoresStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.Client(), "test", RetryPolicy{MaxRetries: 0}, "",
		WithBreakerSettings(gobreaker.Settings{
			Name:        "trip-fast",
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 2 },
			Timeout:     time.Minute,
		}),
		WithTransportFailuresOnly())

	for i := 0; i < 4; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err := c.Do(req)
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	assert.Equal(t, "closed", c.State())

	// A refused connection still counts.
	server.Close()
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, _ = c.Do(req)
	}
	assert.Equal(t, "open", c.State())
}

func TestStreamingHTTPClient_NoOverallTimeout(t *testing.T) {
	c := StreamingHTTPClient(time.Second)
	assert.Zero(t, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, time.Second, tr.ResponseHeaderTimeout)
	assert.NotZero(t, tr.TLSHandshakeTimeout)
}
