package poc

import (
	"net/url"
	"strings"
)

// Anchor is one link found on a search results page.
type Anchor struct {
	Href string
	Text string
}

var (
	skipFragments = []string{"javascript:", "mailto:", "#", "twitter.com", "facebook.com", "linkedin.com"}

	urlKeywords = []string{
		"github.com", "gitlab.com", "exploit-db.com", "exploit",
		"packetstormsecurity.com", "metasploit", "nuclei-templates",
		"poc", "cve", "vulnerability",
	}

	textKeywords = []string{"exploit", "poc", "github", "gitlab", "metasploit", "nuclei"}
)

// Classifier picks exploit-relevant links out of a search engine's anchors.
// It holds no state besides the search host used to resolve relative links.
type Classifier struct {
	base *url.URL
	skip []string
}

func NewClassifier(base *url.URL) *Classifier {
	skip := append([]string{}, skipFragments...)
	if base != nil && base.Host != "" {
		// the engine's own search and query pages
		skip = append(skip, base.Host+"/search", base.Host+"/?")
	}
	return &Classifier{base: base, skip: skip}
}

// Select returns at most max relevant links in first-seen order.
func (c *Classifier) Select(anchors []Anchor, max int) []string {
	if max <= 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string

	for _, a := range anchors {
		href := strings.TrimSpace(a.Href)
		if href == "" {
			continue
		}

		href = c.resolve(href)
		if c.skipped(href) || !relevant(href, a.Text) {
			continue
		}
		if !strings.HasPrefix(href, "http") || len(href) <= 10 {
			continue
		}

		if _, dup := seen[href]; dup {
			continue
		}
		seen[href] = struct{}{}
		links = append(links, href)

		if len(links) == max {
			break
		}
	}

	return links
}

func (c *Classifier) skipped(href string) bool {
	lower := strings.ToLower(href)
	for _, s := range c.skip {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func relevant(href, text string) bool {
	return containsAny(strings.ToLower(href), urlKeywords) ||
		containsAny(strings.ToLower(strings.TrimSpace(text)), textKeywords)
}

func (c *Classifier) resolve(href string) string {
	switch {
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/") && c.base != nil:
		return c.base.Scheme + "://" + c.base.Host + href
	default:
		return href
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
