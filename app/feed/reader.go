package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lysyi3m/vuln-comb/app/cache"
)

const DefaultReaderBaseURL = "https://r.jina.ai/"

type ReaderOptions struct {
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
	MaxRetries        int
	Backoff           time.Duration // multiplied by the attempt number between retries
	UserAgent         string
	CacheTTL          time.Duration
}

// Reader fetches a readable rendering of a page through a reader proxy.
// Failures degrade to an empty string rather than an error.
type Reader struct {
	httpClient *http.Client
	store      cache.Store
	extractor  *ContentExtractor
	pacer      *rate.Limiter
	opts       ReaderOptions
}

type fetchError struct {
	status    int
	retryable bool
	err       error
}

func (e *fetchError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("HTTP error: %d", e.status)
}

func (e *fetchError) Unwrap() error {
	return e.err
}

// NewReader builds a Reader. store may be nil to disable page caching.
func NewReader(httpClient *http.Client, store cache.Store, extractor *ContentExtractor, opts ReaderOptions) *Reader {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultReaderBaseURL
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		pacer = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Reader{
		httpClient: httpClient,
		store:      store,
		extractor:  extractor,
		pacer:      pacer,
		opts:       opts,
	}
}

func (r *Reader) Fetch(ctx context.Context, pageURL string) string {
	if pageURL == "" {
		return ""
	}

	cacheKey := "reader:" + pageURL
	if r.store != nil {
		if cached, found, err := r.store.Get(ctx, cacheKey); err != nil {
			slog.Warn("Reader cache lookup failed", "url", pageURL, "error", err)
		} else if found {
			slog.Debug("Reader cache hit", "url", pageURL)
			return string(cached)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * r.opts.Backoff
			slog.Debug("Reader retry scheduled", "url", pageURL, "attempt", attempt, "delay", delay.String())
			if !sleep(ctx, delay) {
				break
			}
		}

		if err := r.pacer.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		content, err := r.fetchOnce(ctx, pageURL)
		if err == nil {
			r.remember(ctx, cacheKey, content)
			return content
		}

		lastErr = err
		var fe *fetchError
		if !errors.As(err, &fe) || !fe.retryable {
			break
		}
	}

	slog.Warn("Reader fetch failed", "url", pageURL, "error", lastErr)
	return ""
}

func (r *Reader) fetchOnce(ctx context.Context, pageURL string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.opts.BaseURL+pageURL, nil)
	if err != nil {
		return "", &fetchError{err: fmt.Errorf("failed to create request: %w", err)}
	}
	if r.opts.UserAgent != "" {
		req.Header.Set("User-Agent", r.opts.UserAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", &fetchError{retryable: isTimeout(ctx, err), err: fmt.Errorf("failed to fetch page: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", &fetchError{status: resp.StatusCode, retryable: retryable}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &fetchError{retryable: isTimeout(ctx, err), err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") && r.extractor != nil {
		article, err := r.extractor.Run(body, pageURL)
		if err == nil {
			return article, nil
		}
		slog.Debug("Readable extraction failed, using raw body", "url", pageURL, "error", err)
	}

	return string(body), nil
}

func (r *Reader) remember(ctx context.Context, key, content string) {
	if r.store == nil || content == "" {
		return
	}
	if err := r.store.Set(ctx, key, []byte(content), r.opts.CacheTTL); err != nil {
		slog.Warn("Reader cache write failed", "key", key, "error", err)
	}
}

// isTimeout reports whether err is a per-request timeout while the parent context is still live.
func isTimeout(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
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
