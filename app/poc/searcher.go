package poc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const DefaultSearchURL = "https://sploitus.com/"

var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Cache-Control":             "no-cache",
	"Pragma":                    "no-cache",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Upgrade-Insecure-Requests": "1",
}

type SearchOptions struct {
	BaseURL  string
	MaxLinks int
	Delay    time.Duration // minimum spacing between requests to the engine
	Timeout  time.Duration
}

// Search is the result of one engine lookup. When Fallback is set, Links holds
// only the engine's own query URL for the CVE.
type Search struct {
	CVE      string
	Links    []string
	Fallback bool
}

type Searcher struct {
	httpClient *http.Client
	base       *url.URL
	classifier *Classifier
	pacer      *rate.Limiter
	opts       SearchOptions
}

func NewSearcher(httpClient *http.Client, opts SearchOptions) (*Searcher, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultSearchURL
	}
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid search URL: %s", opts.BaseURL)
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if opts.Delay > 0 {
		pacer = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}

	return &Searcher{
		httpClient: httpClient,
		base:       base,
		classifier: NewClassifier(base),
		pacer:      pacer,
		opts:       opts,
	}, nil
}

// QueryURL is the engine's results page for cve.
func (s *Searcher) QueryURL(cve string) string {
	u := *s.base
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = url.Values{"query": {cve}}.Encode()
	return u.String()
}

// Search never fails: request errors and empty results degrade to the query URL.
func (s *Searcher) Search(ctx context.Context, cve string) Search {
	queryURL := s.QueryURL(cve)
	fallback := Search{CVE: cve, Links: []string{queryURL}, Fallback: true}

	if err := s.pacer.Wait(ctx); err != nil {
		slog.Warn("PoC search cancelled", "cve", cve, "error", err)
		return fallback
	}

	anchors, err := s.fetchAnchors(ctx, queryURL)
	if err != nil {
		slog.Warn("PoC search failed, returning search URL", "cve", cve, "error", err)
		return fallback
	}

	links := s.classifier.Select(anchors, s.opts.MaxLinks)
	if len(links) == 0 {
		slog.Info("No direct PoC links, returning search URL", "cve", cve)
		return fallback
	}

	slog.Info("PoC links found", "cve", cve, "count", len(links))
	return Search{CVE: cve, Links: links}
}

func (s *Searcher) fetchAnchors(ctx context.Context, pageURL string) ([]Anchor, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch search page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	var anchors []Anchor
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		anchors = append(anchors, Anchor{Href: href, Text: strings.TrimSpace(a.Text())})
	})

	return anchors, nil
}
