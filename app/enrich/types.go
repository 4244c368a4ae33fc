package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited signals that no call was made or the provider refused it for quota reasons.
	ErrRateLimited = errors.New("enrichment rate limit exceeded")

	ErrNotConfigured = errors.New("enrichment is not configured")
)

// Generator turns a prompt into raw model output.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Kind int

const (
	// KindAbsent means no analysis is attached.
	KindAbsent Kind = iota
	// KindComplete means the model returned a well-formed analysis.
	KindComplete
	// KindDegraded means the model output could not be parsed and only a
	// truncated summary was salvaged.
	KindDegraded
)

func (k Kind) String() string {
	switch k {
	case KindComplete:
		return "complete"
	case KindDegraded:
		return "degraded"
	default:
		return "absent"
	}
}

type Enrichment struct {
	Kind         Kind
	Summary      string
	Translation  string
	HowToExploit string
	Keywords     []string
}

type payload struct {
	Summary      string   `json:"summary"`
	Translation  string   `json:"translation"`
	HowToExploit string   `json:"how_to_exploit"`
	Keywords     []string `json:"keywords"`
}

func Absent() Enrichment {
	return Enrichment{Kind: KindAbsent}
}

func (e Enrichment) IsAbsent() bool {
	return e.Kind == KindAbsent
}

// Payload serializes the analysis for storage. Absent analyses serialize to "".
func (e Enrichment) Payload() (string, error) {
	if e.IsAbsent() {
		return "", nil
	}

	keywords := e.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	data, err := json.Marshal(payload{
		Summary:      e.Summary,
		Translation:  e.Translation,
		HowToExploit: e.HowToExploit,
		Keywords:     keywords,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal enrichment: %w", err)
	}
	return string(data), nil
}

// KeywordList returns the keywords joined with commas.
func (e Enrichment) KeywordList() string {
	return strings.Join(e.Keywords, ",")
}
