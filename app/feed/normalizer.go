package feed

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

var blankLinesRe = regexp.MustCompile(`\n\s*\n\s*\n+`)

// CleanHTML strips markup, drops script and style elements and collapses all
// whitespace runs to a single space.
func CleanHTML(content string) string {
	if content == "" {
		return ""
	}

	text := content
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err == nil {
		doc.Find("script, style, noscript").Remove()
		text = doc.Text()
	}

	return strings.Join(strings.Fields(text), " ")
}

// NormalizeText unifies line endings, squeezes runs of blank lines and trims each line.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}

	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
