// Package fetch downloads climate archives that are missing locally.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/adapter/upstream"
	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

// ErrNotFetchable is returned for datasets that must be provided locally.
var ErrNotFetchable = errors.New("dataset archive cannot be fetched automatically")

// Fetchable reports whether a dataset's archive may be downloaded. The
// regional product is distributed on request only.
func Fetchable(id domain.DatasetID) bool {
	return id == domain.DatasetERA5 || id == domain.DatasetCRU
}

// DefaultHeaderTimeout bounds the wait for an archive server to start responding.
const DefaultHeaderTimeout = 2 * time.Minute

// Doer is the subset of upstream.Client used by the Fetcher.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher ensures archive files exist on disk.
type Fetcher struct {
	client   Doer
	logger   *slog.Logger
	attempts int
	wait     time.Duration
	sleepFn  func(context.Context, time.Duration) bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithAttempts sets how many times an interrupted download is started over,
// and the pause between attempts.
func WithAttempts(n int, wait time.Duration) Option {
	return func(f *Fetcher) {
		f.attempts = max(n, 1)
		f.wait = wait
	}
}

// New creates a Fetcher. A nil client streams through
// upstream.StreamingHTTPClient, which has no whole-request deadline.
func New(client Doer, logger *slog.Logger, opts ...Option) *Fetcher {
	if client == nil {
		client = upstream.New(upstream.StreamingHTTPClient(DefaultHeaderTimeout), "archive-fetch", upstream.DefaultRetryPolicy(), "glacierunc")
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{client: client, logger: logger, attempts: 3, wait: 5 * time.Second, sleepFn: sleepWithContext}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// errInterrupted marks a body that broke off mid-stream.
var errInterrupted = errors.New("download interrupted")

// Ensure downloads url to dest unless dest already exists. It reports
// whether a download happened. A transfer that breaks off mid-stream is
// started over from the beginning.
func (f *Fetcher) Ensure(ctx context.Context, dataset domain.DatasetID, url, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		f.logger.Debug("archive present", "dataset", dataset, "path", dest)
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to stat %s: %w", dest, err)
	}
	if !Fetchable(dataset) {
		return false, fmt.Errorf("%s: %w; place it at %s", dataset, ErrNotFetchable, dest)
	}
	if url == "" {
		return false, fmt.Errorf("%s: archive %s missing and no download URL configured", dataset, dest)
	}

	var err error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		f.logger.Info("fetching archive", "dataset", dataset, "url", url, "path", dest, "attempt", attempt)
		err = f.download(ctx, dataset, url, dest)
		if err == nil || !errors.Is(err, errInterrupted) || ctx.Err() != nil {
			break
		}
		f.logger.Warn("archive download interrupted", "dataset", dataset, "attempt", attempt, "error", err)
		if attempt < f.attempts && !f.sleepFn(ctx, f.wait) {
			return false, ctx.Err()
		}
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *Fetcher) download(ctx context.Context, dataset domain.DatasetID, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", dataset, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: download failed: %w", dataset, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: download failed: %w", dataset, &upstream.StatusError{URL: url, StatusCode: resp.StatusCode})
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: %w after %d bytes: %w", dataset, errInterrupted, n, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	f.logger.Info("archive fetched", "dataset", dataset, "path", dest, "bytes", n)
	return nil
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
