package feed

import (
	"regexp"
	"slices"
	"strings"
)

var (
	cveRe   = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,7}`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// ExtractCVEs returns the upper-cased, de-duplicated, sorted CVE identifiers found in text.
func ExtractCVEs(text string) []string {
	if text == "" {
		return nil
	}

	matches := cveRe.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.ToUpper(m)
	}
	return uniqueSorted(matches)
}

// ExtractEmails returns the de-duplicated, sorted email addresses found in text.
func ExtractEmails(text string) []string {
	if text == "" {
		return nil
	}
	return uniqueSorted(emailRe.FindAllString(text, -1))
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	slices.Sort(values)
	return slices.Compact(values)
}
