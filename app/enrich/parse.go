package enrich

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const fallbackSummaryRunes = 200

type rawAnalysis struct {
	Summary      string          `json:"summary"`
	Translation  string          `json:"translation"`
	HowToExploit string          `json:"how_to_exploit"`
	Keywords     json.RawMessage `json:"keywords"`
}

// ParseAnalysis reads the JSON object spanning the first '{' and the last '}' of raw.
// Anything else yields a degraded analysis carrying a truncated copy of raw.
func ParseAnalysis(raw string) Enrichment {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")

	if start >= 0 && end > start {
		var parsed rawAnalysis
		if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err == nil {
			return Enrichment{
				Kind:         KindComplete,
				Summary:      strings.TrimSpace(parsed.Summary),
				Translation:  strings.TrimSpace(parsed.Translation),
				HowToExploit: strings.TrimSpace(parsed.HowToExploit),
				Keywords:     parseKeywords(parsed.Keywords),
			}
		}
	}

	return Enrichment{
		Kind:    KindDegraded,
		Summary: truncate(strings.TrimSpace(raw), fallbackSummaryRunes),
	}
}

// parseKeywords accepts either a JSON array of strings or a comma-separated string.
func parseKeywords(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil
		}
		values = strings.Split(joined, ",")
	}

	keywords := make([]string, 0, len(values))
	for _, v := range values {
		// commas would break the joined keyword column
		v = strings.TrimSpace(strings.ReplaceAll(v, ",", " "))
		if v != "" {
			keywords = append(keywords, v)
		}
	}
	if len(keywords) == 0 {
		return nil
	}
	return keywords
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
