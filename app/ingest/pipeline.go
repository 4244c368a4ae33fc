package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/vuln-comb/app/database"
	"github.com/lysyi3m/vuln-comb/app/enrich"
	"github.com/lysyi3m/vuln-comb/app/feed"
)

// MinContentLength is the embedded body length below which the entry page is
// fetched through the reader instead.
const MinContentLength = 100

type Source struct {
	Tag     string
	Name    string
	URL     string
	Timeout time.Duration
}

type Enricher interface {
	Analyze(ctx context.Context, text, title, source string) (enrich.Enrichment, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) string
}

type Result struct {
	Processed  int
	Errors     int
	AIRequests int
	AISkipped  int
	Items      []database.NewItem
}

type Pipeline struct {
	httpClient *http.Client
	parser     *feed.Parser
	reader     PageFetcher
	userAgent  string
}

func NewPipeline(httpClient *http.Client, parser *feed.Parser, reader PageFetcher, userAgent string) *Pipeline {
	return &Pipeline{
		httpClient: httpClient,
		parser:     parser,
		reader:     reader,
		userAgent:  userAgent,
	}
}

// ProcessFeed fetches one feed and turns its entries into candidate items,
// one entry at a time. The returned error covers only the feed itself; entry
// failures are counted in Result.Errors. enricher may be nil.
func (p *Pipeline) ProcessFeed(ctx context.Context, src Source, enricher Enricher) (Result, error) {
	var result Result

	data, err := p.fetchFeed(ctx, src)
	if err != nil {
		return result, fmt.Errorf("failed to fetch feed: %w", err)
	}

	_, entries, err := p.parser.Run(data)
	if err != nil {
		return result, fmt.Errorf("failed to parse feed: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if entry.Link == "" {
			continue
		}

		result.Processed++

		item, err := p.processEntry(ctx, src, entry, enricher, &result)
		if err != nil {
			slog.Warn("Failed to process entry", "source", src.Tag, "link", entry.Link, "error", err)
			result.Errors++
			continue
		}
		result.Items = append(result.Items, item)
	}

	slog.Info("Feed processed",
		"source", src.Tag,
		"entries", len(entries),
		"processed", result.Processed,
		"errors", result.Errors,
		"ai_requests", result.AIRequests,
		"ai_skipped", result.AISkipped)

	return result, nil
}

func (p *Pipeline) processEntry(ctx context.Context, src Source, entry feed.Item, enricher Enricher, result *Result) (item database.NewItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing entry: %v", r)
		}
	}()

	if err := validateLink(entry.Link); err != nil {
		return item, err
	}

	raw := entry.Body()
	if utf8.RuneCountInString(raw) < MinContentLength && p.reader != nil {
		if page := p.reader.Fetch(ctx, entry.Link); page != "" {
			raw = page
		}
	}

	text := feed.NormalizeText(feed.CleanHTML(raw))

	item = database.NewItem{
		Link:        entry.Link,
		Title:       entry.Title,
		SourceTag:   src.Tag,
		Content:     text,
		CVEs:        feed.ExtractCVEs(text),
		Emails:      feed.ExtractEmails(text),
		PublishedAt: entry.PublishedAt,
	}

	if enricher == nil || text == "" {
		return item, nil
	}

	analysis := Enrich(ctx, enricher, text, entry.Title, src.Name, result)
	payload, err := analysis.Payload()
	if err != nil {
		return item, err
	}
	item.AIContent = payload
	item.Keywords = analysis.KeywordList()

	return item, nil
}

// Enrich runs one analysis and records the call in result's AI counters.
// Rate-limited calls count as skipped, every other issued call as a request.
// Failures leave the analysis absent.
func Enrich(ctx context.Context, enricher Enricher, text, title, source string, result *Result) enrich.Enrichment {
	analysis, err := enricher.Analyze(ctx, text, title, source)
	switch {
	case errors.Is(err, enrich.ErrNotConfigured):
		return enrich.Absent()
	case errors.Is(err, enrich.ErrRateLimited):
		result.AISkipped++
		slog.Debug("Enrichment skipped by rate limit", "title", title)
		return enrich.Absent()
	case err != nil:
		result.AIRequests++
		slog.Warn("Enrichment failed", "title", title, "error", err)
		return enrich.Absent()
	}

	result.AIRequests++
	return analysis
}

func (p *Pipeline) fetchFeed(ctx context.Context, src Source) ([]byte, error) {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func validateLink(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid entry link: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid entry link: %s", link)
	}
	return nil
}
