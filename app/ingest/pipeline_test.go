package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/vuln-comb/app/enrich"
	"github.com/lysyi3m/vuln-comb/app/feed"
)

var longBody = strings.Repeat("Attackers are exploiting the flaw in the wild. ", 4)

const feedTemplate = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Security Weekly</title>
    <link>https://news.example.com</link>
    %s
  </channel>
</rss>`

func rssItem(title, link, description string) string {
	return "<item><title>" + title + "</title><link>" + link + "</link><description><![CDATA[" + description + "]]></description></item>"
}

func serveFeed(t *testing.T, items ...string) *httptest.Server {
	t.Helper()
	body := strings.Replace(feedTemplate, "%s", strings.Join(items, "\n"), 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "vuln-comb-test" {
			t.Errorf("Expected user agent to be sent, got: %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

type mockEnricher struct {
	calls     int
	responses []error
	panicOn   int
}

func (m *mockEnricher) Analyze(ctx context.Context, text, title, source string) (enrich.Enrichment, error) {
	m.calls++
	if m.panicOn == m.calls {
		panic("unexpected model output")
	}
	if idx := m.calls - 1; idx < len(m.responses) && m.responses[idx] != nil {
		return enrich.Absent(), m.responses[idx]
	}
	return enrich.Enrichment{Kind: enrich.KindComplete, Summary: "summary of " + title, Keywords: []string{"rce", "vpn"}}, nil
}

type mockFetcher struct {
	pages map[string]string
	calls []string
}

func (m *mockFetcher) Fetch(ctx context.Context, pageURL string) string {
	m.calls = append(m.calls, pageURL)
	return m.pages[pageURL]
}

func newTestPipeline(reader PageFetcher) *Pipeline {
	return NewPipeline(&http.Client{Timeout: 5 * time.Second}, feed.NewParser(), reader, "vuln-comb-test")
}

func TestProcessFeedEnrichmentSkipAccounting(t *testing.T) {
	server := serveFeed(t,
		rssItem("First", "https://news.example.com/1", "<p>"+longBody+" CVE-2024-12345</p>"),
		rssItem("Second", "https://news.example.com/2", "<p>"+longBody+"</p>"),
	)

	enricher := &mockEnricher{responses: []error{nil, enrich.ErrRateLimited}}
	pipeline := newTestPipeline(&mockFetcher{})

	result, err := pipeline.ProcessFeed(context.Background(), Source{Tag: "weekly", Name: "Security Weekly", URL: server.URL}, enricher)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.AIRequests != 1 || result.AISkipped != 1 {
		t.Errorf("Expected 1 request and 1 skip, got: %d requests, %d skipped", result.AIRequests, result.AISkipped)
	}
	if result.Processed != 2 || result.Errors != 0 {
		t.Errorf("Expected 2 processed without errors, got: %+v", result)
	}
	if len(result.Items) != 2 {
		t.Fatalf("Expected both entries in batch, got: %d", len(result.Items))
	}

	first := result.Items[0]
	if !strings.Contains(first.AIContent, "summary of First") || first.Keywords != "rce,vpn" {
		t.Errorf("Expected first entry enriched, got: %q / %q", first.AIContent, first.Keywords)
	}
	if len(first.CVEs) != 1 || first.CVEs[0] != "CVE-2024-12345" {
		t.Errorf("Expected extracted CVE, got: %v", first.CVEs)
	}
	if strings.Contains(first.Content, "<p>") {
		t.Errorf("Expected markup stripped, got: %q", first.Content)
	}

	second := result.Items[1]
	if second.AIContent != "" || second.Keywords != "" {
		t.Errorf("Expected second entry without analysis, got: %q / %q", second.AIContent, second.Keywords)
	}
}

func TestProcessFeedSkipsLinklessEntries(t *testing.T) {
	server := serveFeed(t,
		rssItem("Linked", "https://news.example.com/1", longBody),
		"<item><title>Orphan</title><description>"+longBody+"</description></item>",
	)

	result, err := newTestPipeline(nil).ProcessFeed(context.Background(), Source{Tag: "weekly", URL: server.URL}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Processed != 1 || len(result.Items) != 1 || result.Errors != 0 {
		t.Errorf("Expected only the linked entry processed, got: %+v", result)
	}
}

func TestProcessFeedReaderFallback(t *testing.T) {
	server := serveFeed(t,
		rssItem("Short", "https://news.example.com/short", "Teaser only"),
		rssItem("Long", "https://news.example.com/long", longBody),
	)

	reader := &mockFetcher{pages: map[string]string{
		"https://news.example.com/short": "Full article text about CVE-2023-56789. Contact security@example.com",
	}}

	result, err := newTestPipeline(reader).ProcessFeed(context.Background(), Source{Tag: "weekly", URL: server.URL}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(reader.calls) != 1 || reader.calls[0] != "https://news.example.com/short" {
		t.Errorf("Expected reader called only for the short entry, got: %v", reader.calls)
	}

	short := result.Items[0]
	if !strings.HasPrefix(short.Content, "Full article text") {
		t.Errorf("Expected reader content, got: %q", short.Content)
	}
	if len(short.Emails) != 1 || short.Emails[0] != "security@example.com" {
		t.Errorf("Expected extracted email, got: %v", short.Emails)
	}
}

func TestProcessFeedKeepsShortContentWhenReaderFails(t *testing.T) {
	server := serveFeed(t, rssItem("Short", "https://news.example.com/short", "Teaser only"))

	result, err := newTestPipeline(&mockFetcher{}).ProcessFeed(context.Background(), Source{Tag: "weekly", URL: server.URL}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Content != "Teaser only" {
		t.Errorf("Expected embedded teaser kept, got: %+v", result.Items)
	}
}

func TestProcessFeedIsolatesEntryFailures(t *testing.T) {
	server := serveFeed(t,
		rssItem("Bad link", "ftp://news.example.com/1", longBody),
		rssItem("Panics", "https://news.example.com/2", longBody),
		rssItem("Fine", "https://news.example.com/3", longBody),
	)

	enricher := &mockEnricher{panicOn: 1}

	result, err := newTestPipeline(nil).ProcessFeed(context.Background(), Source{Tag: "weekly", URL: server.URL}, enricher)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Processed != 3 || result.Errors != 2 {
		t.Errorf("Expected 3 processed and 2 errors, got: %+v", result)
	}
	if len(result.Items) != 1 || result.Items[0].Link != "https://news.example.com/3" {
		t.Errorf("Expected only the healthy entry in batch, got: %+v", result.Items)
	}
}

func TestProcessFeedCountsFailedCallsAsRequests(t *testing.T) {
	server := serveFeed(t, rssItem("One", "https://news.example.com/1", longBody))

	enricher := &mockEnricher{responses: []error{errors.New("model unavailable")}}

	result, err := newTestPipeline(nil).ProcessFeed(context.Background(), Source{Tag: "weekly", URL: server.URL}, enricher)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.AIRequests != 1 || result.AISkipped != 0 || result.Errors != 0 {
		t.Errorf("Expected one failed request without entry error, got: %+v", result)
	}
	if len(result.Items) != 1 || result.Items[0].AIContent != "" {
		t.Errorf("Expected entry kept without analysis, got: %+v", result.Items)
	}
}

func TestProcessFeedHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestPipeline(nil).ProcessFeed(context.Background(), Source{Tag: "weekly", URL: server.URL}, nil)
	if err == nil {
		t.Error("Expected error for failing feed")
	}
}

func TestProcessFeedNilClientIsNotConfigured(t *testing.T) {
	server := serveFeed(t, rssItem("One", "https://news.example.com/1", longBody))

	var client *enrich.Client
	result, err := newTestPipeline(nil).ProcessFeed(context.Background(), Source{Tag: "weekly", URL: server.URL}, client)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.AIRequests != 0 || result.AISkipped != 0 {
		t.Errorf("Expected no AI accounting without a client, got: %+v", result)
	}
}
