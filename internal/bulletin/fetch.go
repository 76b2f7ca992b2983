package bulletin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrFetch wraps transport failures after retries are exhausted. Fatal to
// the run: no alerts are evaluated without a bulletin.
var ErrFetch = errors.New("bulletin fetch failed")

// Fetcher downloads the latest bulletin over HTTP with bounded retries.
type Fetcher struct {
	url        string
	httpClient *http.Client
	retries    int
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. retries is the number of additional
// attempts after the first; timeout bounds each individual attempt.
func NewFetcher(url string, timeout time.Duration, retries int, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
		logger:  logger,
	}
}

// Fetch downloads the bulletin, retrying transient failures with
// exponential backoff. Returns ErrFetch once attempts are exhausted.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	// Exponential backoff: start at 500ms, double each retry, cap at 10s.
	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			f.logger.Warn("retrying bulletin fetch", "attempt", attempt, "backoff", backoff, "error", lastErr)
			if !sleepWithContext(ctx, backoff) {
				return nil, fmt.Errorf("%w: %v", ErrFetch, ctx.Err())
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}

		data, err := f.fetchOnce(ctx)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrFetch, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
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
